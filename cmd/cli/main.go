// Command appshelf is a CLI client for the apps HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "appshelf")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "appshelf")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
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
		return "", errors.New("no valid token (run `appshelf token` first)")
	}
	return tf.AccessToken, nil
}

// mintToken signs an HS256 access token the server accepts.
func mintToken(key []byte, sub, role string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := struct {
		Role string `json:"role"`
		jwt.RegisteredClaims
	}{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	return tok, exp, err
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `appshelf CLI
Usage:
  appshelf -addr URL [-cacert file | -insecure] <cmd> [args]

Commands:
  version
  token   -key <secret> -sub <user id> [-role user|admin] [-ttl 1h]   (saves token)
  list    [-query q] [-tag t] [-view created|shared] [-order title|created_at|updated_at] [-dir asc|desc] [-page n]
  tags
  get     -id <id>
  create  [-id <id>] -title <t> -file <source> [-desc d] [-tags a,b] [-private | -read u1,u2 -write u3]
  update  -id <id> -title <t> -file <source> [-desc d] [-tags a,b] [-private | -read ... -write ...]
  toggle  -id <id>
  rm      -id <id>
  export  [-o file]
  import  -file <export.json>
  purge                                                         (admin: delete all apps)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for HTTP calls.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	insecure := flag.Bool("insecure", false, "skip cert verify (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := func() *apiClient {
		token, err := loadToken()
		if err != nil {
			fail(err)
		}
		c, err := newClient(*addr, *caPath, *insecure, token)
		if err != nil {
			fail(err)
		}
		return c
	}

	switch cmd {

	case "version":
		fmt.Printf("appshelf %s (%s)\n", version, buildDate)

	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		key := fs.String("key", os.Getenv("APPSHELF_JWT_KEY"), "HS256 signing key")
		sub := fs.String("sub", "", "user id")
		role := fs.String("role", "user", "user|admin")
		ttl := fs.Duration("ttl", time.Hour, "token lifetime")
		_ = fs.Parse(args)
		if *key == "" || *sub == "" {
			fmt.Fprintln(os.Stderr, "need -key and -sub")
			os.Exit(1)
		}
		tok, exp, err := mintToken([]byte(*key), *sub, *role, *ttl, time.Now())
		if err != nil {
			fail(err)
		}
		if err := saveToken(tok, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		query := fs.String("query", "", "title substring")
		tag := fs.String("tag", "", "tag")
		view := fs.String("view", "", "created|shared")
		order := fs.String("order", "", "title|created_at|updated_at")
		dir := fs.String("dir", "", "asc|desc")
		page := fs.Int("page", 1, "page (30 per page)")
		_ = fs.Parse(args)

		q := url.Values{"page": {strconv.Itoa(*page)}}
		for k, v := range map[string]string{"query": *query, "tag": *tag, "view_option": *view, "order_by": *order, "direction": *dir} {
			if v != "" {
				q.Set(k, v)
			}
		}
		var out json.RawMessage
		if err := client().call(ctx, http.MethodGet, "/list", q, nil, &out); err != nil {
			fail(err)
		}
		fmt.Println(pretty(out))

	case "tags":
		var out []string
		if err := client().call(ctx, http.MethodGet, "/tags", nil, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "get":
		fs := flag.NewFlagSet("get", flag.ExitOnError)
		id := fs.String("id", "", "app id")
		_ = fs.Parse(args)
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		var out json.RawMessage
		if err := client().call(ctx, http.MethodGet, "/app", idQuery(*id), nil, &out); err != nil {
			fail(err)
		}
		fmt.Println(pretty(out))

	case "create", "update":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		var ff formFlags
		fs.StringVar(&ff.ID, "id", "", "app id (uuid generated on create when empty)")
		fs.StringVar(&ff.Title, "title", "", "title")
		file := fs.String("file", "", "source file ('-'=stdin)")
		fs.StringVar(&ff.Description, "desc", "", "description")
		fs.StringVar(&ff.Tags, "tags", "", "comma-separated tags")
		fs.StringVar(&ff.ChatID, "chat", "", "source chat id")
		fs.BoolVar(&ff.Private, "private", false, "owner-only access")
		fs.StringVar(&ff.ReadUsers, "read", "", "comma-separated user ids granted read")
		fs.StringVar(&ff.WriteUsers, "write", "", "comma-separated user ids granted write")
		fs.BoolVar(&ff.Inactive, "inactive", false, "store as inactive")
		_ = fs.Parse(args)

		if cmd == "create" {
			autoUUID(&ff.ID)
		}
		if ff.ID == "" || *file == "" {
			fmt.Fprintln(os.Stderr, "need -id and -file")
			os.Exit(1)
		}
		src, err := readAll(*file)
		if err != nil {
			fail(err)
		}
		ff.Source = src

		path := "/create"
		if cmd == "update" {
			path = "/app/update"
		}
		var out json.RawMessage
		if err := client().call(ctx, http.MethodPost, path, nil, buildForm(ff), &out); err != nil {
			fail(err)
		}
		fmt.Println(pretty(out))

	case "toggle":
		fs := flag.NewFlagSet("toggle", flag.ExitOnError)
		id := fs.String("id", "", "app id")
		_ = fs.Parse(args)
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		var out struct {
			ID       string `json:"id"`
			IsActive bool   `json:"is_active"`
		}
		if err := client().call(ctx, http.MethodPost, "/app/toggle", idQuery(*id), nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "rm":
		fs := flag.NewFlagSet("rm", flag.ExitOnError)
		id := fs.String("id", "", "app id")
		_ = fs.Parse(args)
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		var ok bool
		if err := client().call(ctx, http.MethodPost, "/app/delete", nil, map[string]string{"id": *id}, &ok); err != nil {
			fail(err)
		}
		printJSON(ok)

	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		outPath := fs.String("o", "", "output file (default stdout)")
		_ = fs.Parse(args)

		var out json.RawMessage
		if err := client().call(ctx, http.MethodGet, "/export", nil, nil, &out); err != nil {
			fail(err)
		}
		if *outPath == "" {
			fmt.Println(pretty(out))
			break
		}
		if err := os.WriteFile(*outPath, []byte(pretty(out)+"\n"), 0o600); err != nil {
			fail(err)
		}

	case "import":
		fs := flag.NewFlagSet("import", flag.ExitOnError)
		file := fs.String("file", "", "export file ('-'=stdin)")
		_ = fs.Parse(args)
		if *file == "" {
			fmt.Fprintln(os.Stderr, "need -file")
			os.Exit(1)
		}
		b, err := readAll(*file)
		if err != nil {
			fail(err)
		}
		items, err := importItems(b)
		if err != nil {
			fail(fmt.Errorf("parse %s: %w", *file, err))
		}
		var ok bool
		if err := client().call(ctx, http.MethodPost, "/import", nil, map[string]any{"apps": items}, &ok); err != nil {
			fail(err)
		}
		printJSON(ok)

	case "purge":
		var ok bool
		if err := client().call(ctx, http.MethodDelete, "/delete/all", nil, nil, &ok); err != nil {
			fail(err)
		}
		printJSON(ok)

	default:
		usage()
	}
}

// ---- helpers ----

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "api error: status=%d msg=%s\n", ae.Status, ae.Detail)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
