package replica

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/logentry"
	"github.com/coltreedb/repltree/internal/part"
	"github.com/coltreedb/repltree/internal/partstore"
	"github.com/coltreedb/repltree/pkg/types"
	"github.com/coltreedb/repltree/pkg/verrors"
)

// createTable writes the table's persistent skeleton: metadata plus the
// empty parent directories every other component assumes exist
// (spec.md §4.D.2).
func (r *Replica) createTable(ctx context.Context) error {
	t := r.table
	if err := r.getCoord().Create(ctx, t.Metadata(), r.cfg.metadata.Encode()); err != nil {
		if errors.Is(err, verrors.ErrAlreadyExists) {
			return nil
		}
		return errors.Wrap(err, "replica: create table metadata")
	}
	for _, dir := range []string{t.Replicas(), t.Blocks(), t.BlockNumbers(), t.LeaderElection(), t.Temp()} {
		if err := r.getCoord().Create(ctx, dir, nil); err != nil && !errors.Is(err, verrors.ErrAlreadyExists) {
			return errors.Wrapf(err, "replica: create %s", dir)
		}
	}
	return nil
}

// checkStructure asserts the coordinator's metadata matches this
// replica's local table definition character-for-character (spec.md
// §4.D.3).
func (r *Replica) checkStructure(ctx context.Context) error {
	raw, found, err := r.getCoord().Get(ctx, r.table.Metadata())
	if err != nil {
		return errors.Wrap(err, "replica: read table metadata")
	}
	if !found {
		return errors.Wrap(verrors.ErrMetadataMismatch, "replica: table metadata missing")
	}
	remote, err := DecodeMetadata(raw)
	if err != nil {
		return err
	}
	if !remote.Matches(r.cfg.metadata) {
		return errors.Wrap(verrors.ErrMetadataMismatch, "replica: local metadata diverges from coordinator")
	}
	return nil
}

// createReplica implements spec.md §4.D.4: snapshot the peer list, create
// our own subtree, wait for every peer to either go inactive or record a
// log_pointers/<self> entry (so no peer trims log entries we still need),
// then seed our queue from a chosen mirror peer.
func (r *Replica) createReplica(ctx context.Context) error {
	peers, err := r.listPeers(ctx)
	if err != nil {
		return err
	}

	self := r.table.Replica(r.self)
	for _, dir := range []string{self.Path(), self.Log(), self.LogPointers(), self.Queue(), self.Parts(), self.Flags()} {
		if err := r.getCoord().Create(ctx, dir, nil); err != nil && !errors.Is(err, verrors.ErrAlreadyExists) {
			return errors.Wrapf(err, "replica: create replica subtree %s", dir)
		}
	}

	var others []types.ReplicaName
	for _, p := range peers {
		if p != r.self {
			others = append(others, p)
		}
	}
	for _, peer := range others {
		if err := r.awaitPeerAcknowledgesUs(ctx, peer); err != nil {
			return err
		}
	}

	mirror, ok := r.pickMirror(ctx, others)
	if !ok {
		// No peers at all: nothing to seed from, table starts empty.
		return nil
	}
	return r.seedFromMirror(ctx, mirror)
}

func (r *Replica) listPeers(ctx context.Context) ([]types.ReplicaName, error) {
	nodes, err := r.getCoord().List(ctx, r.table.Replicas())
	if err != nil {
		return nil, errors.Wrap(err, "replica: list peers")
	}
	out := make([]types.ReplicaName, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, types.ReplicaName(n.Name))
	}
	return out, nil
}

// awaitPeerAcknowledgesUs blocks, with watches and a 5s polling fallback,
// until peer is inactive or has created log_pointers/<self> under its own
// subtree (spec.md §4.D.4). This is the window the spec's design notes
// call out as racy in the original and preserves as-is.
func (r *Replica) awaitPeerAcknowledgesUs(ctx context.Context, peer types.ReplicaName) error {
	peerPath := r.table.Replica(peer)
	pointerPath := joinPath(peerPath.LogPointers(), string(r.self))

	for {
		active, err := r.getCoord().Exists(ctx, peerPath.IsActive())
		if err != nil {
			return errors.Wrapf(err, "replica: check %s activity", peer)
		}
		if !active {
			return nil
		}
		has, err := r.getCoord().Exists(ctx, pointerPath)
		if err != nil {
			return errors.Wrapf(err, "replica: check %s pointer", peer)
		}
		if has {
			return nil
		}

		watchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ch, err := r.getCoord().Watch(watchCtx, pointerPath)
		if err == nil {
			select {
			case <-ch:
			case <-watchCtx.Done():
			}
		} else {
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				cancel()
				return ctx.Err()
			}
		}
		cancel()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func joinPath(dir, elem string) string { return dir + "/" + elem }

// pickMirror prefers an active peer, falling back to the first peer in
// the snapshot (spec.md §4.D.4).
func (r *Replica) pickMirror(ctx context.Context, peers []types.ReplicaName) (types.ReplicaName, bool) {
	if len(peers) == 0 {
		return "", false
	}
	for _, p := range peers {
		active, err := r.getCoord().Exists(ctx, r.table.Replica(p).IsActive())
		if err == nil && active {
			return p, true
		}
	}
	return peers[0], true
}

// seedFromMirror copies the mirror's log_pointers, snapshots its queue,
// enqueues GET_PART for each of its active parts, then appends its queue
// snapshot to ours. Duplicates are acceptable, losses are not.
func (r *Replica) seedFromMirror(ctx context.Context, mirror types.ReplicaName) error {
	mirrorPath := r.table.Replica(mirror)

	pointers, err := r.getCoord().List(ctx, mirrorPath.LogPointers())
	if err != nil {
		return errors.Wrap(err, "replica: list mirror pointers")
	}
	for _, p := range pointers {
		dst := r.table.Replica(r.self).LogPointer(types.ReplicaName(p.Name))
		if err := r.getCoord().Create(ctx, dst, p.Value); err != nil && !errors.Is(err, verrors.ErrAlreadyExists) {
			return errors.Wrapf(err, "replica: copy pointer %s", p.Name)
		}
	}

	partNodes, err := r.getCoord().List(ctx, mirrorPath.Parts())
	if err != nil {
		return errors.Wrap(err, "replica: list mirror parts")
	}
	for _, p := range partNodes {
		r.queue.Push(QueueEntry{Entry: logentry.Get(p.Name, mirror)})
	}

	queueNodes, err := r.getCoord().List(ctx, mirrorPath.Queue())
	if err != nil {
		return errors.Wrap(err, "replica: list mirror queue")
	}
	for _, q := range queueNodes {
		e, err := logentry.Decode(q.Value)
		if err != nil {
			r.logger.Warn("skipping malformed mirror queue entry", zap.String("name", q.Name), zap.Error(err))
			continue
		}
		r.queue.Push(QueueEntry{Entry: e})
	}
	return nil
}

// checkPartsResult is the four-way partition checkParts computes.
type checkPartsResult struct {
	Unexpected            []part.Name
	CoveredByLocal        []part.Name
	UnexpectedlyObsolete  []part.Name
	ToFetch               []part.Name
}

// checkParts implements spec.md §4.D's attach-path reconciliation.
func (r *Replica) checkParts(ctx context.Context) error {
	local, err := r.store.List()
	if err != nil {
		return errors.Wrap(err, "replica: list local parts")
	}
	localSet := part.NewSet()
	localByName := make(map[string]partstore.Info, len(local))
	for _, info := range local {
		localSet.Add(info.Name)
		localByName[info.Name.String()] = info
	}

	self := r.table.Replica(r.self)
	remoteNodes, err := r.getCoord().List(ctx, self.Parts())
	if err != nil {
		return errors.Wrap(err, "replica: list coordinator parts")
	}
	remoteSet := make(map[string]struct{}, len(remoteNodes))
	for _, n := range remoteNodes {
		remoteSet[n.Name] = struct{}{}
	}

	var res checkPartsResult
	for _, info := range local {
		if _, ok := remoteSet[info.Name.String()]; !ok {
			res.Unexpected = append(res.Unexpected, info.Name)
		}
	}
	for name := range remoteSet {
		n, err := part.Parse(name)
		if err != nil {
			continue
		}
		if localSet.Member(n) {
			continue
		}
		if cover := localSet.Containing(n); cover != n {
			res.CoveredByLocal = append(res.CoveredByLocal, n)
			continue
		}
		res.UnexpectedlyObsolete = append(res.UnexpectedlyObsolete, n)
	}
	// The "expected" set is remoteSet minus CoveredByLocal; whatever of
	// those this replica truly lacks locally is ToFetch.
	coveredNames := make(map[string]struct{}, len(res.CoveredByLocal))
	for _, n := range res.CoveredByLocal {
		coveredNames[n.String()] = struct{}{}
	}
	for name := range remoteSet {
		if _, covered := coveredNames[name]; covered {
			continue
		}
		n, err := part.Parse(name)
		if err != nil {
			continue
		}
		if !r.store.Has(n) {
			res.ToFetch = append(res.ToFetch, n)
		}
	}

	forced, err := r.consumeForceRestoreFlag(ctx)
	if err != nil {
		return err
	}
	if !forced {
		if len(res.CoveredByLocal) > 2 || len(res.Unexpected) > 2 ||
			len(res.UnexpectedlyObsolete) > 20 || len(res.ToFetch) > 2 {
			return errors.Wrap(verrors.ErrTooManyUnexpectedParts, "replica: checkParts")
		}
	}

	for _, n := range res.CoveredByLocal {
		info := localByName[localSet.Containing(n).String()]
		if err := r.verifyChecksumAgainstAnyPeer(ctx, n, info.Checksum); err != nil {
			return err
		}
		if err := r.registerPart(ctx, info); err != nil {
			return err
		}
	}
	for _, n := range res.UnexpectedlyObsolete {
		p := self.Part(n.String())
		if err := r.getCoord().DeleteRecursive(ctx, p.Path()); err != nil && !errors.Is(err, verrors.ErrNotFound) {
			return errors.Wrapf(err, "replica: drop obsolete coordinator part %s", n)
		}
	}
	for _, n := range res.ToFetch {
		p := self.Part(n.String())
		if err := r.getCoord().DeleteRecursive(ctx, p.Path()); err != nil && !errors.Is(err, verrors.ErrNotFound) {
			return errors.Wrapf(err, "replica: clear stale entry for %s", n)
		}
		r.queue.Push(QueueEntry{Entry: logentry.Get(n.String(), "")})
	}
	for _, n := range res.Unexpected {
		if err := r.store.Ignore(n); err != nil {
			return errors.Wrapf(err, "replica: ignore unexpected part %s", n)
		}
	}
	return nil
}

func (r *Replica) consumeForceRestoreFlag(ctx context.Context) (bool, error) {
	flag := r.table.Replica(r.self).ForceRestoreFlag()
	present, err := r.getCoord().Exists(ctx, flag)
	if err != nil {
		return false, errors.Wrap(err, "replica: check force_restore_data")
	}
	if !present {
		return false, nil
	}
	if err := r.getCoord().Delete(ctx, flag); err != nil {
		return false, errors.Wrap(err, "replica: consume force_restore_data")
	}
	return true, nil
}

// verifyChecksumAgainstAnyPeer checks a local part's checksum against any
// peer replica that also has it registered under that name; a peer
// midway through registering it may have no checksum recorded yet, in
// which case verification is silently skipped (spec.md §9, documented
// open question).
func (r *Replica) verifyChecksumAgainstAnyPeer(ctx context.Context, name part.Name, localChecksum string) error {
	peers, err := r.listPeers(ctx)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		if peer == r.self {
			continue
		}
		sumPath := r.table.Replica(peer).Part(name.String()).Checksums()
		raw, found, err := r.getCoord().Get(ctx, sumPath)
		if err != nil || !found || len(raw) == 0 {
			continue
		}
		if string(raw) != localChecksum {
			return errors.Wrapf(verrors.ErrChecksumMismatch, "replica: %s disagrees with peer %s", name, peer)
		}
		return nil
	}
	return nil
}

// registerPart writes a part's registration and its checksum in one
// multi-op transaction, so a crash between the two never leaves a part
// registered with no checksum (spec.md §6).
func (r *Replica) registerPart(ctx context.Context, info partstore.Info) error {
	p := r.table.Replica(r.self).Part(info.Name.String())
	txn := r.getCoord().Txn().
		Create(p.Path(), nil).
		Set(p.Checksums(), []byte(info.Checksum))
	if _, err := txn.Commit(ctx); err != nil && !errors.Is(err, verrors.ErrAlreadyExists) {
		return errors.Wrapf(err, "replica: register part %s", info.Name)
	}
	return nil
}

