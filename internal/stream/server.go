package stream

import (
	"log/slog"

	"google.golang.org/grpc"

	"smartvalue/internal/auth"
	"smartvalue/internal/domain"
	"smartvalue/internal/watchlist"
)

// subscriberBuffer is the per-client event backlog. Events beyond it are
// dropped by the store.
const subscriberBuffer = 256

// Server implements the WatchEvents gRPC endpoint.
type Server struct {
	store    *watchlist.Store
	sessions *auth.Sessions
	log      *slog.Logger
}

// NewServer creates a gRPC server backed by the given watchlist store.
func NewServer(store *watchlist.Store, sessions *auth.Sessions, log *slog.Logger) *Server {
	return &Server{store: store, sessions: sessions, log: log}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// watchEvents sends a snapshot of the caller's list, then streams change
// events as they arrive. The stream ends when the client disconnects.
func (s *Server) watchEvents(req *WatchRequest, ss grpc.ServerStream) error {
	user := domain.GuestUser
	if u, ok := s.sessions.Lookup(req.Token); ok {
		user = u
	}

	// Subscribe before the snapshot so no change falls in between.
	subID, ch := s.store.Subscribe(user, subscriberBuffer)
	defer s.store.Unsubscribe(subID)

	ctx := ss.Context()
	snap, err := s.store.Snapshot(ctx, user)
	if err != nil {
		return err
	}
	if err := ss.SendMsg(&snap); err != nil {
		return err
	}

	s.log.Info("grpc client subscribed", "subID", subID, "user", user)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID, "user", user)
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := ss.SendMsg(&evt); err != nil {
				return err
			}
		}
	}
}
