package replica

import (
	"context"

	"github.com/pkg/errors"

	"github.com/coltreedb/repltree/internal/part"
	"github.com/coltreedb/repltree/internal/partstore"
	"github.com/coltreedb/repltree/internal/telemetry"
	"github.com/coltreedb/repltree/pkg/types"
)

// fetchPart implements spec.md §4.F.3's fetch path and backs §4.H: pick an
// active peer known to have name, download it via the part-exchange
// client, and commit it into the local store.
func (r *Replica) fetchPart(ctx context.Context, name part.Name, preferred types.ReplicaName) (partstore.Info, error) {
	peer, err := r.pickFetchPeer(ctx, name, preferred)
	if err != nil {
		telemetry.FetchAttemptsCountMetricVec.WithLabelValues(string(r.self), "no_replica_has_part").Inc()
		return partstore.Info{}, err
	}

	stagingDir, err := r.store.Stage(name)
	if err != nil {
		return partstore.Info{}, errors.Wrapf(err, "replica: stage %s", name)
	}
	if err := r.transfer.Fetch(ctx, peer, name, stagingDir); err != nil {
		telemetry.FetchAttemptsCountMetricVec.WithLabelValues(string(r.self), "error").Inc()
		return partstore.Info{}, errors.Wrapf(err, "replica: fetch %s from %s", name, peer)
	}

	info, err := r.store.Commit(stagingDir, name)
	if err != nil {
		telemetry.FetchAttemptsCountMetricVec.WithLabelValues(string(r.self), "error").Inc()
		return partstore.Info{}, errors.Wrapf(err, "replica: commit fetched %s", name)
	}

	if err := r.verifyChecksumAgainstAnyPeer(ctx, name, info.Checksum); err != nil {
		telemetry.FetchAttemptsCountMetricVec.WithLabelValues(string(r.self), "checksum_mismatch").Inc()
		return partstore.Info{}, err
	}

	telemetry.FetchAttemptsCountMetricVec.WithLabelValues(string(r.self), "ok").Inc()
	return info, nil
}

// resolveHost implements the HostResolver the transfer.Client uses to turn
// a peer name into its advertised "host:port" (spec.md §4.H, §6).
func (r *Replica) resolveHost(ctx context.Context, peer types.ReplicaName) (string, error) {
	raw, found, err := r.getCoord().Get(ctx, r.table.Replica(peer).Host())
	if err != nil {
		return "", err
	}
	if !found {
		return "", errors.Errorf("replica: no host recorded for %s", peer)
	}
	return string(raw), nil
}
