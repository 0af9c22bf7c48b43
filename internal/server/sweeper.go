package server

import (
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/caseflowhq/casechat/internal/session"
)

// Sweeper expires in-memory sessions on a cron schedule.
type Sweeper struct {
	expr     *cronexpr.Expression
	sessions *session.InMemory
	stop     chan struct{}
	logger   *log.Logger
}

// NewSweeper parses the cron spec, defaulting to hourly when it is invalid
// or empty.
func NewSweeper(cronSpec string, sessions *session.InMemory) *Sweeper {
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		expr = cronexpr.MustParse("0 * * * *")
	}
	return &Sweeper{
		expr:     expr,
		sessions: sessions,
		stop:     make(chan struct{}),
		logger:   log.New(log.Writer(), "[SWEEP] ", log.LstdFlags),
	}
}

func (s *Sweeper) Start() {
	go func() {
		for {
			next := s.expr.Next(time.Now())
			if next.IsZero() {
				return
			}
			select {
			case <-s.stop:
				return
			case <-time.After(time.Until(next)):
				if removed := s.sessions.Sweep(); removed > 0 {
					s.logger.Printf("expired %d sessions", removed)
				}
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stop)
}
