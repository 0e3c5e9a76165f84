// Command sk is a CLI client for the sync-keeper service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"

	pb "github.com/and161185/sync-keeper/internal/syncpb"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	AccountID   string    `json:"account_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "synckeeper")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "synckeeper")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok, accountID string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, AccountID: accountID, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run `sk token` first)")
	}
	return tf.AccessToken, nil
}

func guidPath() string { return filepath.Join(cfgDir(), "cache_guid") }

// cacheGUID returns this client's originator guid, creating it on first use.
func cacheGUID() (string, error) {
	b, err := os.ReadFile(guidPath())
	if err == nil {
		if g := strings.TrimSpace(string(b)); g != "" {
			return g, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	g, err := u.NewV4()
	if err != nil {
		return "", err
	}
	_ = os.MkdirAll(cfgDir(), 0o700)
	if err := os.WriteFile(guidPath(), []byte(g.String()), 0o600); err != nil {
		return "", err
	}
	return g.String(), nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

type connOpts struct {
	addr      string
	caPath    string
	insecure  bool // TLS without verification
	plaintext bool // no TLS at all
	timeout   time.Duration
}

func loadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(o connOpts, bearer string) (*grpc.ClientConn, pb.SyncServiceClient, error) {
	var creds credentials.TransportCredentials
	if o.plaintext {
		creds = insecure.NewCredentials()
	} else {
		var err error
		if creds, err = loadTLS(o.caPath, o.insecure); err != nil {
			return nil, nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !o.plaintext}))
	}
	cc, err := grpc.NewClient(o.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, pb.NewSyncServiceClient(cc), nil
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printOut(w io.Writer, format string, v any) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		o      connOpts
		output string
	)
	root := &cobra.Command{
		Use:           "sk",
		Short:         "sync-keeper CLI client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.addr, "addr", "localhost:8443", "server addr")
	pf.StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	pf.BoolVar(&o.insecure, "insecure", false, "skip cert verify (dev)")
	pf.BoolVar(&o.plaintext, "plaintext", false, "connect without TLS (dev)")
	pf.DurationVar(&o.timeout, "timeout", 30*time.Second, "per-command timeout")
	pf.StringVarP(&output, "output", "o", "json", "output format: json or yaml")

	root.AddCommand(
		newVersionCmd(),
		newTokenCmd(),
		newChangesCmd(&o, &output),
		newCommitCmd(&o, &output),
		newBookmarkCmd(&o, &output),
	)
	return root
}
