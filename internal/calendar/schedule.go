package calendar

import (
	"context"

	"github.com/robfig/cron/v3"

	appLog "kioskcal/internal/log"
)

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Schedule runs Refresh on the standard cron spec (e.g. "*/30 * * * *" or
// "@every 30m") until ctx is cancelled. A refresh still running when the
// next tick fires causes that tick to be skipped.
func (s *Service) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := c.AddFunc(spec, func() {
		s.Refresh(ctx)
	}); err != nil {
		return nil, err
	}
	c.Start()
	appLog.Info("calendar refresh scheduled", "spec", spec)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
