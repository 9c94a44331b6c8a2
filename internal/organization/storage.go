package organization

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/cutroom/cutroom/internal/database"
	"github.com/cutroom/cutroom/internal/httputil"
)

// ErrOrgNotFound is returned by Reconcile for an unknown organization.
var ErrOrgNotFound = errors.New("organization not found")

// Reconciliation reports a storage repair run. Byte counts are decimal
// strings backed by arbitrary-precision integers: totals can exceed what a
// float64 carries exactly, so they never pass through one.
type Reconciliation struct {
	BeforeBytes string `json:"beforeBytes"`
	UsedBytes   string `json:"usedBytes"`
	DeltaBytes  string `json:"deltaBytes"`
}

// Reconcile recomputes an organization's storage usage from its live,
// non-deleted, storage-backed video records and overwrites the cached
// counter. The counter is a cache that can drift after partial failures;
// this is the repair, not the source of truth. Idempotent: a second run with
// no intervening writes reports a zero delta. Safe to run concurrently with
// other mutations — it reflects whatever state it reads.
func Reconcile(ctx context.Context, db database.DBTX, orgID string) (Reconciliation, error) {
	var beforeStr string
	err := db.QueryRow(ctx,
		`SELECT storage_used_bytes::text FROM organizations WHERE id = $1`,
		orgID,
	).Scan(&beforeStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reconciliation{}, ErrOrgNotFound
		}
		return Reconciliation{}, fmt.Errorf("read cached usage: %w", err)
	}

	// Records without a file key were never persisted to the blob store and
	// contribute nothing.
	var usedStr string
	err = db.QueryRow(ctx,
		`SELECT COALESCE(SUM(original_size_bytes), 0)::text FROM videos
		 WHERE organization_id = $1 AND status != 'deleted'
		   AND file_key IS NOT NULL AND original_size_bytes IS NOT NULL`,
		orgID,
	).Scan(&usedStr)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("sum live video sizes: %w", err)
	}

	before, ok := new(big.Int).SetString(beforeStr, 10)
	if !ok {
		return Reconciliation{}, fmt.Errorf("unparseable cached usage %q", beforeStr)
	}
	used, ok := new(big.Int).SetString(usedStr, 10)
	if !ok {
		return Reconciliation{}, fmt.Errorf("unparseable usage sum %q", usedStr)
	}

	if _, err := db.Exec(ctx,
		`UPDATE organizations SET storage_used_bytes = $2::numeric, updated_at = now() WHERE id = $1`,
		orgID, used.String(),
	); err != nil {
		return Reconciliation{}, fmt.Errorf("write reconciled usage: %w", err)
	}

	delta := new(big.Int).Sub(used, before)
	return Reconciliation{
		BeforeBytes: before.String(),
		UsedBytes:   used.String(),
		DeltaBytes:  delta.String(),
	}, nil
}

// ReconcileStorage repairs the current organization's storage counter.
func (h *Handler) ReconcileStorage(w http.ResponseWriter, r *http.Request) {
	orgID := RequireOrg(w, r)
	if orgID == "" {
		return
	}
	if RequireRole(w, r, "owner", "admin") == "" {
		return
	}

	rec, err := Reconcile(r.Context(), h.db, orgID)
	if err != nil {
		if errors.Is(err, ErrOrgNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "organization not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to reconcile storage")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, rec)
}
