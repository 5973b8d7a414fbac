// Command hypermeshd boots a store (memstore backend) and a peer
// group agent (libp2p transport) from a config file, and serves a
// small chi status endpoint, adapted from cmd/synnergy/main.go's
// cobra root command and cmd/explorer/server.go's router pattern.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hypermesh/config"
	"hypermesh/identity"
	"hypermesh/peergroup"
	"hypermesh/peergroup/libp2pnet"
	"hypermesh/store"
	"hypermesh/store/memstore"
	"hypermesh/utils"
)

func main() {
	var cfgPath string
	root := &cobra.Command{Use: "hypermeshd"}
	run := &cobra.Command{
		Use:   "run",
		Short: "start a hypermesh store + peer group agent and serve /status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cfgPath)
		},
	}
	run.Flags().StringVar(&cfgPath, "config", "", "path to a hypermeshd config file")
	root.AddCommand(run)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cfgPath string) error {
	var cfg config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return utils.Wrap(err, "hypermeshd: load config")
	}
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	backend := memstore.New("hypermeshd")
	st := store.New(backend)

	id, err := identity.NewIdentity("hypermeshd-" + cfg.PeerGroup.ID)
	if err != nil {
		return utils.Wrap(err, "hypermeshd: generate identity")
	}
	idHash, err := st.Save(id)
	if err != nil {
		return utils.Wrap(err, "hypermeshd: save identity")
	}

	ctx := context.Background()
	net, err := libp2pnet.New(ctx, cfg.PeerGroup.Endpoint, cfg.PeerGroup.ID)
	if err != nil {
		return utils.Wrap(err, "hypermeshd: start libp2p transport")
	}

	self := peergroup.PeerInfo{
		Endpoint:     cfg.PeerGroup.Endpoint,
		IdentityHash: idHash,
		Identity:     id,
	}
	source := newStaticPeerSource(cfg.PeerGroup.BootstrapPeers)

	agent := peergroup.NewAgent(cfg.PeerGroup.ID, self, net, libp2pnet.SecureAdapter{Adapter: net}, source, cfg.PeerGroupConfig())
	agent.OnNewPeer(func(p peergroup.PeerInfo) {
		logrus.WithField("peer", p.Endpoint).Info("peer is now live")
	})
	agent.OnLostPeer(func(p peergroup.PeerInfo) {
		logrus.WithField("peer", p.Endpoint).Warn("peer lost")
	})
	if err := agent.Start(); err != nil {
		return utils.Wrap(err, "hypermeshd: start peer group agent")
	}
	defer agent.Shutdown()

	srv := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: statusRouter(agent, st)}
	logrus.WithField("addr", cfg.HTTP.ListenAddr).Info("hypermeshd listening")
	return srv.ListenAndServe()
}

func statusRouter(agent *peergroup.Agent, st *store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"stats": agent.GetStats()})
	})
	r.Get("/peers", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, agent.GetPeers())
	})
	r.Get("/ws", statusStream(agent))
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// staticPeerSource answers discovery/validation from a fixed bootstrap
// list, a stand-in for the rendezvous service spec §1 places out of
// scope.
type staticPeerSource struct {
	peers []peergroup.PeerInfo
}

func newStaticPeerSource(endpoints []string) *staticPeerSource {
	peers := make([]peergroup.PeerInfo, 0, len(endpoints))
	for _, ep := range endpoints {
		peers = append(peers, peergroup.PeerInfo{Endpoint: ep})
	}
	return &staticPeerSource{peers: peers}
}

func (s *staticPeerSource) GetPeers(count int) []peergroup.PeerInfo {
	if count > len(s.peers) {
		count = len(s.peers)
	}
	return append([]peergroup.PeerInfo{}, s.peers[:count]...)
}

func (s *staticPeerSource) GetPeerForEndpoint(endpoint string) (peergroup.PeerInfo, bool) {
	for _, p := range s.peers {
		if p.Endpoint == endpoint {
			return p, true
		}
	}
	return peergroup.PeerInfo{}, false
}
