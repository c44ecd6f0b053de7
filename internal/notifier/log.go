package notifier

import (
	"log/slog"

	"github.com/amishk599/careerscan/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes run progress and completion to the given logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Progress logs every site state in the snapshot at debug level.
func (n *LogNotifier) Progress(p model.RunProgress) {
	for _, s := range p.Sites {
		args := []any{"run_id", p.RunID, "site", s.SiteName, "state", s.State}
		if s.Result != "" {
			args = append(args, "result", s.Result)
		}
		if s.Error != "" {
			args = append(args, "error", s.Error)
		}
		n.logger.Debug("site progress", args...)
	}
}

func (n *LogNotifier) Completed(e model.CompletionEvent) {
	n.logger.Info("run complete",
		"run_id", e.RunID,
		"status", e.Status,
		"new_postings", e.NewPostings,
		"successful", e.Successful,
		"failed", e.Failed,
	)
}

// Fanout forwards every event to each notifier in order.
type Fanout []model.Notifier

var _ model.Notifier = Fanout(nil)

func (f Fanout) Progress(p model.RunProgress) {
	for _, n := range f {
		n.Progress(p.Clone())
	}
}

func (f Fanout) Completed(e model.CompletionEvent) {
	for _, n := range f {
		n.Completed(e)
	}
}
