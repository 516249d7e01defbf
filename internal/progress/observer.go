package progress

import (
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/metrics"
	"github.com/JakeFAU/album-ripper/internal/rip"
)

// Observer adapts rip notifications into progress events.
type Observer struct {
	emitter Emitter
	logger  *zap.Logger
}

var _ rip.Observer = (*Observer)(nil)

// NewObserver returns an Observer that forwards to emitter.
func NewObserver(emitter Emitter, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{emitter: emitter, logger: logger}
}

// Update implements rip.Observer.
func (o *Observer) Update(evt rip.Event) {
	if o == nil || o.emitter == nil {
		return
	}
	stage, ok := StageFor(evt.Status)
	if !ok {
		o.logger.Debug("ignoring unknown rip status", zap.String("status", string(evt.Status)))
		return
	}
	out := Event{
		RipID: ripUUID(evt.RipID, evt.Root),
		TS:    evt.TS,
		Stage: stage,
		Root:  evt.Root,
		URL:   evt.Locator.String(),
		Path:  evt.Path,
		Note:  evt.Message,
	}
	if out.URL != "" {
		out.Site = metrics.SanitizeSite(out.URL)
	} else {
		out.Site = metrics.SanitizeSite(evt.Root)
	}
	if stage == StageItemDone && evt.Path != "" {
		if info, err := os.Stat(evt.Path); err == nil {
			out.Bytes = info.Size()
		}
	}
	o.emitter.Emit(out)
}

// ripUUID parses id, deriving a stable name-based UUID for rips created
// without a UUID generator.
func ripUUID(id, root string) uuid.UUID {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(root+"#"+id))
}
