// Package transfer realizes spec.md §4.H/§6's "HTTP-like inter-server
// part transfer service" literally as HTTP, the way
// _examples/alpacahq-marketstore's frontend/heartbeat.go registers plain
// net/http handlers rather than a generated RPC service: the server
// streams a part's files and its checksum manifest; the client resolves
// the peer's host:port from the coordinator and downloads into a staging
// directory ready for the caller to commit via partstore.Store.Commit.
package transfer

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/coltreedb/repltree/internal/part"
	"github.com/coltreedb/repltree/pkg/types"
)

// PartSource is the subset of partstore.Store the transfer server needs to
// read a part by name.
type PartSource interface {
	Has(name part.Name) bool
	PartDir(name part.Name) string
}

// EndpointName formats the inter-server endpoint name,
// "ReplicatedMergeTree:<replica_path>" per spec.md §4.H/§6. Nothing in
// this module registers it; Server is mounted on /parts/ by the daemon.
func EndpointName(replicaPath string) string {
	return "ReplicatedMergeTree:" + replicaPath
}

// Server answers GET /parts/<name> by tarring up the part directory.
type Server struct {
	source PartSource
	logger *zap.Logger
}

func NewServer(source PartSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{source: source, logger: logger.Named("transfer")}
}

// Handler returns the http.Handler to mount under e.g. "/parts/".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/parts/", s.handlePart)
	return mux
}

func (s *Server) handlePart(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/parts/")
	n, err := part.Parse(name)
	if err != nil {
		http.Error(w, "malformed part name", http.StatusBadRequest)
		return
	}
	if !s.source.Has(n) {
		http.Error(w, "no such part", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/x-tar")
	tw := tar.NewWriter(w)
	defer tw.Close()

	dir := s.source.PartDir(n)
	err = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		s.logger.Error("failed streaming part", zap.String("part", name), zap.Error(err))
	}
}

// HostResolver resolves a peer's "host:port" from the coordinator, parsed
// from the same text framing replicas/<peer>/host uses everywhere else
// (spec.md §4.H).
type HostResolver func(ctx context.Context, peer types.ReplicaName) (string, error)

// Client downloads parts from peers resolved by HostResolver.
type Client struct {
	resolve    HostResolver
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(resolve HostResolver, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		resolve:    resolve,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger.Named("transfer"),
	}
}

// Fetch downloads name from peer into destDir, which the caller must
// already have created (e.g. via partstore.Store.Stage).
func (c *Client) Fetch(ctx context.Context, peer types.ReplicaName, name part.Name, destDir string) error {
	host, err := c.resolve(ctx, peer)
	if err != nil {
		return errors.Wrapf(err, "transfer: resolve host for %s", peer)
	}
	url := fmt.Sprintf("http://%s/parts/%s", host, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "transfer: fetch %s from %s", name, peer)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("transfer: fetch %s from %s: status %s", name, peer, resp.Status)
	}

	tr := tar.NewReader(resp.Body)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "transfer: read tar for %s", name)
		}
		dst := filepath.Join(destDir, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		_, err = io.Copy(f, tr)
		closeErr := f.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}
	return nil
}
