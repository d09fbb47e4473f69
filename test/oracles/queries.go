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
			Name: "O1_single_active_escrow_per_milestone",
			SQL: `SELECT milestone_id, COUNT(*) FROM escrows
                  WHERE status NOT IN ('cancelled', 'refunded')
                  GROUP BY milestone_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_fund_entry_matches_escrow",
			SQL: `SELECT e.id, e.amount_cents, SUM(l.amount_cents)
                  FROM escrows e
                  JOIN ledger_entries l ON l.escrow_id = e.id AND l.entry_type = 'fund'
                  GROUP BY e.id, e.amount_cents
                  HAVING COUNT(*) > 1 OR SUM(l.amount_cents) <> e.amount_cents`,
		},
		{
			Name: "O3_disbursement_within_funding",
			SQL: `SELECT escrow_id FROM ledger_entries
                  GROUP BY escrow_id
                  HAVING SUM(CASE WHEN entry_type = 'payout' THEN amount_cents ELSE 0 END)
                       + SUM(CASE WHEN entry_type = 'refund' THEN amount_cents ELSE 0 END)
                       > SUM(CASE WHEN entry_type = 'fund' THEN amount_cents ELSE 0 END)`,
		},
		{
			Name: "O4_fund_entry_iff_funded",
			SQL: `SELECT e.id, e.status FROM escrows e
                  LEFT JOIN ledger_entries l ON l.escrow_id = e.id AND l.entry_type = 'fund'
                  WHERE (e.status NOT IN ('pending', 'cancelled') AND l.id IS NULL)
                     OR (e.status IN ('pending', 'cancelled') AND l.id IS NOT NULL)`,
		},
		{
			Name: "O5_released_iff_paid_payout",
			SQL: `SELECT e.id, e.status FROM escrows e
                  LEFT JOIN payouts p ON p.escrow_id = e.id AND p.status = 'paid'
                  WHERE (e.status = 'released' AND p.id IS NULL)
                     OR (e.status <> 'released' AND p.id IS NOT NULL)`,
		},
		{
			Name: "O6_single_live_payout",
			SQL: `SELECT escrow_id, COUNT(*) FROM payouts
                  WHERE status <> 'failed'
                  GROUP BY escrow_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_refund_entries_match_succeeded_refunds",
			SQL: `SELECT COALESCE(r.escrow_id, l.escrow_id)
                  FROM (SELECT escrow_id, SUM(amount_cents) AS total FROM refunds
                        WHERE status = 'succeeded' GROUP BY escrow_id) r
                  FULL OUTER JOIN
                       (SELECT escrow_id, SUM(amount_cents) AS total FROM ledger_entries
                        WHERE entry_type = 'refund' GROUP BY escrow_id) l
                    ON l.escrow_id = r.escrow_id
                  WHERE COALESCE(r.total, 0) <> COALESCE(l.total, 0)`,
		},
		{
			Name: "O8_no_quarantine",
			SQL:  `SELECT delivery_id, reason FROM unreconciled_events WHERE status = 'open'`,
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
