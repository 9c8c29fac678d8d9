// Package oracles holds the invariant queries the stress suite runs against
// a live database. Each query returns rows only when the invariant is
// violated.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_offer",
			SQL: `SELECT job_id, COUNT(*) FROM offers
                  WHERE status = 'accepted'
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_single_active_hold",
			SQL: `SELECT job_id, COUNT(*) FROM escrow_holds
                  WHERE status IN ('pending_auth','authorized','captured')
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_release_requires_dual_confirm",
			SQL: `SELECT id FROM escrow_holds
                  WHERE status = 'released'
                    AND (homeowner_confirmed_at IS NULL OR contractor_confirmed_at IS NULL)`,
		},
		{
			Name: "O4_job_accepted_offer_linkage",
			SQL: `SELECT j.id FROM jobs j
                  LEFT JOIN offers o ON o.id = j.accepted_offer_id
                  WHERE (j.accepted_offer_id IS NOT NULL) <> (j.status IN ('confirmed','in_progress','completed'))
                     OR (j.accepted_offer_id IS NOT NULL AND (o.job_id <> j.id OR o.status <> 'accepted'))`,
		},
		{
			Name: "O5_no_pending_siblings_after_accept",
			SQL: `SELECT o.id FROM offers o
                  JOIN jobs j ON j.id = o.job_id
                  WHERE j.status IN ('confirmed','in_progress','completed')
                    AND o.status IN ('pending','counter_bid')`,
		},
		{
			Name: "O6_payout_within_amount",
			SQL: `SELECT id FROM escrow_holds
                  WHERE contractor_payout_cents < 0
                     OR contractor_payout_cents > amount_cents`,
		},
		{
			Name: "O7_hold_matches_accepted_offer",
			SQL: `SELECT h.id FROM escrow_holds h
                  JOIN offers o ON o.id = h.offer_id
                  WHERE h.status IN ('pending_auth','authorized','captured','released')
                    AND (o.status <> 'accepted' OR h.amount_cents <> o.amount_cents)`,
		},
		{
			Name: "O8_outbox_not_stale",
			SQL: `SELECT id::text FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O9_completed_job_hold_released",
			SQL: `SELECT j.id FROM jobs j
                  WHERE j.status = 'completed'
                    AND NOT EXISTS (
                        SELECT 1 FROM escrow_holds h
                        WHERE h.job_id = j.id AND h.status = 'released')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
