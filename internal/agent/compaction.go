package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/propfolio/researchd/internal/dispatch"
	"github.com/propfolio/researchd/pkg/models"
)

// CompactionSummary is the typed output of a compaction call: durable facts
// extracted from the summarized turns plus a narrative summary.
type CompactionSummary struct {
	Summary string   `json:"summary"`
	Facts   []string `json:"facts"`
}

// NewCompactionTarget builds the dispatch target for compaction calls.
func NewCompactionTarget() (*dispatch.Target[CompactionSummary], error) {
	return dispatch.NewTarget(CompactionSummary{
		Summary: "The agent searched for comparable sales, found three listings, and retouched two photos for the client.",
		Facts: []string{
			"12 Elm St was listed in 2019 for $850k",
			"The client prefers photos with daylight staging",
		},
	})
}

// needsCompaction reports whether the history has grown into the
// compaction band.
func needsCompaction(session *models.Session) bool {
	threshold := session.Config.MaxConversationLength - session.Config.PreserveExchanges
	if threshold <= 0 {
		return false
	}
	return len(session.History) >= threshold && len(session.History) > session.Config.PreserveExchanges
}

// compact summarizes everything except the newest preserve_exchanges
// entries into context entries, then rewrites history to the preserved
// tail. The LLM call happens without any session lock; the rewrite
// revalidates that the summarized prefix is unchanged before mutating.
func (d *Driver) compact(ctx context.Context, snapshot *models.Session) error {
	cut := len(snapshot.History) - snapshot.Config.PreserveExchanges
	prefix := snapshot.History[:cut]

	var b strings.Builder
	b.WriteString("Summarize the following research conversation. Extract durable facts that later turns will need, and a short narrative summary.\n\n")
	for _, entry := range prefix {
		writeHistoryEntry(&b, entry)
	}

	summary, err := dispatch.Dispatch(ctx, d.dispatcher, d.compactionTarget, dispatch.Request{
		Task:      b.String(),
		Models:    d.modelList,
		Format:    dispatch.FormatJSON,
		SessionID: snapshot.ID,
	})
	if err != nil {
		return fmt.Errorf("compaction dispatch: %w", err)
	}

	now := time.Now().UTC()
	err = d.store.WithSession(snapshot.ID, func(s *models.Session) error {
		if len(s.History) < cut {
			return fmt.Errorf("history shrank during compaction")
		}
		for i := range prefix {
			if s.History[i].ID != prefix[i].ID {
				return fmt.Errorf("history prefix changed during compaction")
			}
		}

		if summary.Summary != "" {
			s.Context = append(s.Context, models.ContextEntry{
				ID: uuid.NewString(), Content: summary.Summary, CreatedAt: now,
			})
		}
		for _, fact := range summary.Facts {
			s.Context = append(s.Context, models.ContextEntry{
				ID: uuid.NewString(), Content: fact, CreatedAt: now,
			})
		}

		// The tail becomes the whole history: depth restarts at zero and
		// parent links are re-chained so no entry references a summarized
		// one.
		tail := make([]models.ConversationEntry, len(s.History)-cut)
		copy(tail, s.History[cut:])
		for i := range tail {
			tail[i].Depth = i
			if i == 0 {
				tail[i].ParentID = ""
			} else {
				tail[i].ParentID = tail[i-1].ID
			}
		}
		s.History = tail
		return nil
	})
	if err != nil {
		return err
	}

	// Compaction is the one non-append-only mutation; the persisted rows
	// are rewritten synchronously.
	return d.store.RewritePersisted(ctx, snapshot.ID)
}
