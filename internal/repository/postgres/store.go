package postgres

import (
	"database/sql"

	"github.com/ignite/outreach/internal/analytics"
	"github.com/ignite/outreach/internal/scheduler"
	"github.com/ignite/outreach/internal/tracking"
	"github.com/ignite/outreach/internal/transport"
	"github.com/ignite/outreach/internal/worker"
)

// Store bundles the per-aggregate repositories behind one value so the
// scheduler, dispatcher, tracking handler and transport can all share a
// single wired dependency.
type Store struct {
	*LeadRepo
	*CampaignRepo
	*ActivityRepo
	*AccountRepo
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		LeadRepo:     NewLeadRepo(db),
		CampaignRepo: NewCampaignRepo(db),
		ActivityRepo: NewActivityRepo(db),
		AccountRepo:  NewAccountRepo(db),
	}
}

var (
	_ scheduler.Repository   = (*Store)(nil)
	_ worker.Store           = (*Store)(nil)
	_ worker.BounceStore     = (*Store)(nil)
	_ tracking.Recorder      = (*Store)(nil)
	_ transport.AccountStore = (*Store)(nil)
	_ analytics.Repository   = (*Store)(nil)
)
