// Command sealdb is a CLI client for the sealdb record store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/and161185/sealdb/internal/channel"
	"github.com/and161185/sealdb/internal/client"
	"github.com/and161185/sealdb/internal/protocol"
	"github.com/and161185/sealdb/internal/query"
)

// ---- config/token store ----

type tokenFile struct {
	Addr        string    `json:"addr"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "sealdb")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sealdb")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(addr, tok string) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tokenFile{Addr: addr, AccessToken: tok, ExpiresAt: tokenExpiry(tok)}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tokenPath(), b, 0o600)
}

// loadToken returns the saved token for addr if it has not expired.
func loadToken(addr string) (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || tf.Addr != addr || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp from a session token without verifying it; the
// server does that.
func tokenExpiry(tok string) time.Time {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(tok, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Now().Add(15 * time.Minute)
	}
	return claims.ExpiresAt.Time
}

// ---- session ----

type globals struct {
	addr     string
	keyFile  string
	user     string
	password string
	verbose  bool
}

// connect authenticates with -u/-p when given, otherwise with the saved token.
func (g *globals) connect(ctx context.Context) (*client.Authenticated, error) {
	key, err := channel.LoadKey(g.keyFile)
	if err != nil {
		return nil, err
	}
	log := zap.NewNop()
	if g.verbose {
		log, _ = zap.NewDevelopment()
	}
	conn, err := client.New(&key, log).Connect(ctx, g.addr)
	if err != nil {
		return nil, err
	}

	var auth *client.Authenticated
	if g.user != "" {
		auth, err = conn.Authenticate(ctx, g.user, g.password)
	} else {
		var tok string
		if tok, err = loadToken(g.addr); err == nil {
			auth, err = conn.Resume(ctx, tok)
		}
	}
	if err != nil {
		_ = conn.TerminateConnection()
		return nil, err
	}
	return auth, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `sealdb CLI
Usage:
  sealdb [--addr HOST:PORT] [--key-file FILE] [-u USER -p PASS] <cmd> [args]

Commands:
  version
  keygen  -o <file>
  login                                        (needs -u/-p; saves token)
  insert  -c <collection> -t <usecase,...> [--acl a,b] -f <file|->
  query   [--wire] <expr>                      e.g. 'or(users:filter, :audit)'
  update  --id <uuid> -t <usecase,...> [--acl a,b] -f <file|->
  delete  --id <uuid>
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands over one authenticated connection each.
func main() {
	var g globals
	flags := pflag.NewFlagSet("sealdb", pflag.ExitOnError)
	flags.StringVar(&g.addr, "addr", "127.0.0.1:8080", "server addr")
	flags.StringVar(&g.keyFile, "key-file", "sealdb.key", "shared key file")
	flags.StringVarP(&g.user, "user", "u", "", "username")
	flags.StringVarP(&g.password, "password", "p", "", "password")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "log protocol events")
	flags.SetInterspersed(false)
	flags.Usage = usage
	_ = flags.Parse(os.Args[1:])

	if flags.NArg() < 1 {
		usage()
	}
	cmd, args := flags.Arg(0), flags.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {
	case "version":
		fmt.Printf("sealdb %s (%s)\n", version, buildDate)

	case "keygen":
		fs := pflag.NewFlagSet("keygen", pflag.ExitOnError)
		out := fs.StringP("out", "o", g.keyFile, "key file to write")
		_ = fs.Parse(args)
		if _, err := os.Stat(*out); err == nil {
			fail(fmt.Errorf("%s exists; refusing to overwrite", *out))
		}
		key, err := channel.GenerateKey()
		if err != nil {
			fail(err)
		}
		if err := channel.SaveKey(key, *out); err != nil {
			fail(err)
		}
		fmt.Println(*out)

	case "login":
		if g.user == "" || g.password == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}
		auth, err := g.connect(ctx)
		if err != nil {
			fail(err)
		}
		defer auth.TerminateConnection()
		if err := saveToken(g.addr, auth.Token()); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "insert":
		fs := pflag.NewFlagSet("insert", pflag.ExitOnError)
		collection := fs.StringP("collection", "c", "", "collection")
		usecases := fs.StringSliceP("usecase", "t", nil, "usecase tags")
		acl := fs.StringSlice("acl", nil, "ACL entries")
		file := fs.StringP("file", "f", "-", "data file ('-'=stdin)")
		_ = fs.Parse(args)
		if *collection == "" || len(*usecases) == 0 {
			fmt.Fprintln(os.Stderr, "need -c and -t")
			os.Exit(1)
		}
		data, err := readAll(*file)
		if err != nil {
			fail(err)
		}

		auth, err := g.connect(ctx)
		if err != nil {
			fail(err)
		}
		defer auth.TerminateConnection()
		id, err := auth.Insert(ctx, protocol.Insertion{Collection: *collection, Data: data, ACL: *acl, Usecases: *usecases})
		if err != nil {
			fail(err)
		}
		fmt.Println(id)

	case "query":
		fs := pflag.NewFlagSet("query", pflag.ExitOnError)
		wire := fs.Bool("wire", false, "print the encoded request in CBOR diagnostic notation and exit")
		_ = fs.Parse(args)
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "need exactly one query expression")
			os.Exit(1)
		}
		q, err := query.Parse(fs.Arg(0))
		if err != nil {
			fail(err)
		}
		if *wire {
			diag, err := diagnose(protocol.QueryRequest{Query: q})
			if err != nil {
				fail(err)
			}
			fmt.Println(diag)
			break
		}
		auth, err := g.connect(ctx)
		if err != nil {
			fail(err)
		}
		defer auth.TerminateConnection()
		recs, err := auth.Query(ctx, q)
		if err != nil {
			fail(err)
		}
		printJSON(recordViews(recs))

	case "update":
		fs := pflag.NewFlagSet("update", pflag.ExitOnError)
		id := fs.String("id", "", "record id (uuid)")
		usecases := fs.StringSliceP("usecase", "t", nil, "usecase tags")
		acl := fs.StringSlice("acl", nil, "ACL entries")
		file := fs.StringP("file", "f", "-", "data file ('-'=stdin)")
		_ = fs.Parse(args)
		rid, err := parseID(*id)
		if err != nil {
			fail(err)
		}
		data, err := readAll(*file)
		if err != nil {
			fail(err)
		}

		auth, err := g.connect(ctx)
		if err != nil {
			fail(err)
		}
		defer auth.TerminateConnection()
		if err := auth.Update(ctx, rid, data, *acl, *usecases); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "delete":
		fs := pflag.NewFlagSet("delete", pflag.ExitOnError)
		id := fs.String("id", "", "record id (uuid)")
		_ = fs.Parse(args)
		rid, err := parseID(*id)
		if err != nil {
			fail(err)
		}

		auth, err := g.connect(ctx)
		if err != nil {
			fail(err)
		}
		defer auth.TerminateConnection()
		if err := auth.Delete(ctx, rid); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

func parseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, errors.New("need --id")
	}
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad --id: %w", err)
	}
	return id, nil
}

func fail(err error) {
	var closed *client.ClosedError
	if errors.As(err, &closed) {
		fmt.Fprintf(os.Stderr, "server closed the connection: %s\n", closed.Reason)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
