package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/album-ripper/internal/rip"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRipStart    Stage = "RIP_START"
	StagePage        Stage = "PAGE"
	StageItemDone    Stage = "ITEM_DONE"
	StageItemExists  Stage = "ITEM_EXISTS"
	StageItemError   Stage = "ITEM_ERROR"
	StageHistoryStop Stage = "HISTORY_STOP"
	StageRipDone     Stage = "RIP_DONE"
	StageRipError    Stage = "RIP_ERROR"
)

var stageByStatus = map[rip.Status]Stage{
	rip.StatusRipStarted:              StageRipStart,
	rip.StatusLoadingResource:         StagePage,
	rip.StatusDownloadComplete:        StageItemDone,
	rip.StatusDownloadWarn:            StageItemExists,
	rip.StatusDownloadErrored:         StageItemError,
	rip.StatusDownloadCompleteHistory: StageHistoryStop,
	rip.StatusRipComplete:             StageRipDone,
	rip.StatusRipErrored:              StageRipError,
}

// StageFor maps a rip status onto its progress stage.
func StageFor(status rip.Status) (Stage, bool) {
	stage, ok := stageByStatus[status]
	return stage, ok
}

// Event is one progress milestone of a rip.
type Event struct {
	RipID uuid.UUID
	// TS is the UTC timestamp recorded by the rip.
	TS    time.Time
	Stage Stage
	// Root is the album URL being ripped.
	Root string
	// Site is the lowercase host the event concerns.
	Site string
	// URL is the item locator for item stages.
	URL string
	// Path is the saved file for ITEM_DONE and ITEM_EXISTS.
	Path string
	// Bytes is the saved file size for ITEM_DONE.
	Bytes int64
	// Note carries the status text or error message.
	Note string
}

// IsItem reports whether the event concerns a single item.
func (e Event) IsItem() bool {
	switch e.Stage {
	case StageItemDone, StageItemExists, StageItemError:
		return true
	}
	return false
}

// Terminal reports whether the event ends a rip.
func (e Event) Terminal() bool {
	return e.Stage == StageRipDone || e.Stage == StageRipError
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RipID == uuid.Nil {
		return errors.New("rip id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if _, ok := stageIndex[e.Stage]; !ok {
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.IsItem() && (e.URL == "" || e.Site == "") {
		return fmt.Errorf("%s requires url and site", e.Stage)
	}
	if e.Bytes < 0 {
		return errors.New("bytes must be >= 0")
	}
	return nil
}

var stageIndex = func() map[Stage]struct{} {
	out := make(map[Stage]struct{}, len(stageByStatus))
	for _, stage := range stageByStatus {
		out[stage] = struct{}{}
	}
	return out
}()
