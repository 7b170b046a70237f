// Package notify pushes ingestion outcomes to an admin Telegram chat.
// Delivery is best-effort; the ingestion pipeline never depends on it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"compdb/internal/ingest"
	logx "compdb/pkg/logx"
)

type Config struct {
	Enabled bool
	Token   string
	ChatID  int64
}

type Service struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

// New creates the notifier. With Enabled=false (or an empty token) it returns
// a disabled service whose methods are no-ops.
func New(cfg Config, log logx.Logger) (*Service, error) {
	s := &Service{cfg: cfg, log: log}
	if !cfg.Enabled {
		return s, nil
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	// Send-only bot: no poller is attached and Start() is never called.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	s.bot = b
	return s, nil
}

func (s *Service) Enabled() bool { return s != nil && s.bot != nil }

// IngestionFinished sends a summary of a finished ingestion run.
func (s *Service) IngestionFinished(ctx context.Context, res ingest.Result) {
	if !s.Enabled() {
		return
	}
	msg := FormatResult(res)
	if _, err := s.bot.Send(&tele.Chat{ID: s.cfg.ChatID}, msg, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		s.log.Warn("ingestion notification failed", logx.Err(err))
		return
	}
	s.log.Debug("ingestion notification sent", logx.Int64("chat_id", s.cfg.ChatID))
}

// FormatResult renders one ingestion result as a plain-text chat message.
func FormatResult(res ingest.Result) string {
	var b strings.Builder
	if res.Success {
		b.WriteString("Weekly comparables update completed\n")
		fmt.Fprintf(&b, "Total: %d\nSuccessful: %d\nFailed: %d\n", res.Total, res.Successful, res.Failed)
		if res.Successful > 0 {
			b.WriteString("New projects are awaiting review in the admin panel.\n")
		}
	} else {
		b.WriteString("Weekly comparables update FAILED\n")
		fmt.Fprintf(&b, "Error: %s\n", res.Error)
	}
	fmt.Fprintf(&b, "Job #%d at %s", res.JobID, time.Now().UTC().Format("2006-01-02 15:04 MST"))
	return b.String()
}
