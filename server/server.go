// Package server owns the mount lifecycle for a dsfs engine.
package server

import (
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/kwarrick/dsfs/config"
	"github.com/kwarrick/dsfs/filesystem"
	"github.com/kwarrick/dsfs/internal/fusebridge"
	"github.com/kwarrick/dsfs/internal/util"
)

// Server exposes an engine instance through a FUSE mount.
type Server struct {
	*filesystem.FileSystem
	cfg    *config.Config
	server *fuse.Server
}

// New creates a Server over an already-constructed engine.
func New(cfg *config.Config, fs *filesystem.FileSystem) *Server {
	return &Server{
		FileSystem: fs,
		cfg:        cfg,
	}
}

// Serve mounts and serves the filesystem at the given mountPoint.
func (s *Server) Serve(mountPoint string) error {
	raw := fusebridge.NewRaw(s.FileSystem)
	opts := s.cfg.MountOptions
	srv, err := fuse.NewServer(raw, mountPoint, &fuse.MountOptions{
		Name:   opts.Name,
		FsName: opts.FsName,
		Debug:  opts.Debug,
		Logger: util.NewLogLogger("FuseServer", util.TraceLevel),
	})
	if err != nil {
		return err
	}
	s.server = srv

	go srv.Serve()
	return srv.WaitMount()
}

// ServeAsync runs Serve in the background and reports the result on the
// returned channel.
func (s *Server) ServeAsync(mountPoint string) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- s.Serve(mountPoint)
		close(done)
	}()

	return done
}

// Unmount cleanly unmounts the filesystem.
func (s *Server) Unmount() error {
	if s.server == nil {
		return nil
	}
	return s.server.Unmount()
}
