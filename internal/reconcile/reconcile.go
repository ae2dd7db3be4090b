// Package reconcile implements the reconciliation coordinator (spec
// §4.14): the state machine that drives one sync pass for a single
// profile, wiring together every other internal package — scanning,
// difference, conflict resolution, selection, materialization, trash
// lifecycle, and priority aging — into the SCAN -> DIFF ->
// APPLY_DELETIONS -> RESOLVE_CONFLICTS -> TRANSFER_MODIFIED_TO_REMOTE ->
// SELECT -> MATERIALIZE_LOCAL -> REMOVE_EXCLUDED_REMOTE -> CLEANUP_TRASH
// -> COMMIT_DATABASES flow.
//
// Acquiring the profile lock (internal/lock) and mounting a non-local
// remote (internal/mount) are the caller's responsibility — RunOnce
// assumes LocalDir and RemoteDir are both already ordinary, readable
// directories, matching the teacher engine's split between session
// setup and the per-cycle RunOnce.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lostatc/zielen/internal/aging"
	"github.com/lostatc/zielen/internal/difference"
	"github.com/lostatc/zielen/internal/dirscan"
	"github.com/lostatc/zielen/internal/localdb"
	"github.com/lostatc/zielen/internal/pathexclude"
	"github.com/lostatc/zielen/internal/remotedb"
	"github.com/lostatc/zielen/internal/safety"
	"github.com/lostatc/zielen/internal/trashlifecycle"
)

// blockSize is the filesystem block unit the selection engine charges for
// every file left as a symlink (spec §4.10's "B").
const blockSize int64 = 4096

// Config bundles one profile's collaborators. LocalRoot and RemoteRoot
// must already be resolved, existing directories (RemoteRoot is the
// sshfs mount point for a non-local profile).
type Config struct {
	LocalRoot  string
	RemoteRoot string

	StorageLimit       int64
	AccountForSize     bool
	InflatePriority    bool
	UseTrash           bool
	TrashDirs          []string
	TrashCleanupPeriod time.Duration
	TransferConcurrency int

	LocalExclude  *pathexclude.Matcher
	RemoteExclude *pathexclude.Matcher

	LPDB   *localdb.DB
	RMDB   *remotedb.DB
	Aging  *aging.Scheduler
	Logger *slog.Logger
}

// Report summarizes one RunOnce pass.
type Report struct {
	AddedLocal     int
	AddedRemote    int
	ModifiedLocal  int
	ModifiedRemote int
	Conflicts      int
	DeletedLocal   int
	DeletedRemote  int
	TrashedRemote  int
	ReusedFromTrash int
	MaterializedFiles int
	SymlinkedFiles     int
	RemovedStale       int
	CleanedTrash       int
	// Failures holds one entry per path whose transfer, rename or removal
	// failed, plus one entry per failed batch step (the materializing
	// transfer of the whole selection, stale-path removal, trash cleanup,
	// aging). None of these failures aborts the rest of the pass (spec
	// §4.14 failure semantics: "the specific path is skipped and
	// reported").
	Failures []string

	LastSync   time.Time
	LastAdjust time.Time
}

// Coordinator drives reconciliation passes for one profile.
type Coordinator struct {
	cfg Config
}

// New constructs a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Coordinator{cfg: cfg}
}

// RunOnce executes a single reconciliation pass (spec §4.14's state
// machine, minus ACQUIRE_LOCK/READ_PROFILE/MOUNT_REMOTE which the caller
// has already completed). lastSync and lastAdjust are the profile's
// previously committed timestamps; the returned Report carries the new
// values the caller must persist to info.json, even when an error is
// also returned, so a crash mid-pass can be resumed from the last
// completed step.
func (c *Coordinator) RunOnce(ctx context.Context, lastSync, lastAdjust, now time.Time) (*Report, error) {
	report := &Report{LastSync: lastSync, LastAdjust: lastAdjust}

	localScanner := dirscan.New(c.cfg.LocalRoot, c.cfg.LocalExclude)
	remoteScanner := dirscan.New(c.cfg.RemoteRoot, c.cfg.RemoteExclude)

	localScan, err := localScanner.Scan(dirscan.AllKinds(), false)
	if err != nil {
		return report, fmt.Errorf("scanning local tree: %w", err)
	}

	remoteScan, err := remoteScanner.Scan(dirscan.AllKinds(), false)
	if err != nil {
		return report, fmt.Errorf("scanning remote tree: %w", err)
	}

	lpdbEntries, err := c.cfg.LPDB.Tree(ctx, "")
	if err != nil {
		return report, fmt.Errorf("reading LPDB: %w", err)
	}

	rmdbEntries, err := c.cfg.RMDB.Tree(ctx, "")
	if err != nil {
		return report, fmt.Errorf("reading RMDB: %w", err)
	}

	diff := difference.Compute(difference.Input{
		LocalScan:  localScan,
		RemoteScan: remoteScan,
		LPDB:       lpdbEntries,
		RMDB:       rmdbEntries,
		LastSync:   lastSync,
	})

	report.AddedLocal = len(diff.AddedLocal)
	report.AddedRemote = len(diff.AddedRemote)
	report.ModifiedLocal = len(diff.ModifiedLocal)
	report.ModifiedRemote = len(diff.ModifiedRemote)
	report.DeletedLocal = len(diff.DeletedLocal)
	report.DeletedRemote = len(diff.DeletedRemote)

	if err := c.applyDeletions(ctx, diff, now, report); err != nil {
		return report, fmt.Errorf("applying deletions: %w", err)
	}

	toRemote := c.resolveConflicts(ctx, localScan, remoteScan, diff, now, report)

	if err := safety.Check(c.cfg.RemoteRoot, sumSizes(localScan, toRemote)); err != nil {
		return report, err
	}

	c.transferToRemote(ctx, toRemote, report)

	if err := c.recordAdditions(ctx, diff, localScan, remoteScan, now); err != nil {
		return report, fmt.Errorf("recording additions: %w", err)
	}

	if err := c.selectAndMaterialize(ctx, remoteScan, report); err != nil {
		return report, fmt.Errorf("materializing selection: %w", err)
	}

	rmdbAfterAdditions, err := c.cfg.RMDB.Tree(ctx, "")
	if err != nil {
		return report, fmt.Errorf("re-reading RMDB: %w", err)
	}

	if err := c.removeExcludedRemote(ctx, rmdbAfterAdditions, report); err != nil {
		return report, fmt.Errorf("removing excluded remote paths: %w", err)
	}

	trashDir := filepath.Join(c.cfg.RemoteRoot, ".zielen", "Trash")

	period := c.cfg.TrashCleanupPeriod
	if period <= 0 {
		period = 30 * 24 * time.Hour
	}

	removed, err := trashlifecycle.Cleanup(trashDir, period, now)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("trash cleanup: %v", err))
	} else {
		report.CleanedTrash = len(removed)
	}

	if c.cfg.Aging != nil {
		nextAdjust, err := c.cfg.Aging.Adjust(ctx, lastAdjust, now)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("aging: %v", err))
		} else {
			report.LastAdjust = nextAdjust
		}
	}

	report.LastSync = now

	return report, nil
}
