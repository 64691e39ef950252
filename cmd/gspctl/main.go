// Package main предоставляет тонкий CLI поверх Control API (C7) для
// операторов, которые не хотят держать под рукой curl: загрузка файла с
// заказами, команды жизненного цикла пакета и диагностика портала через
// stress-login без запуска полного конвейера.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/natura-rpa/gsp-dispatch/internal/config"
	"github.com/natura-rpa/gsp-dispatch/internal/driver"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/sl"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/slogpretty"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	apiAddr := envOr("GSPCTL_API", "http://localhost:8080")

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "upload":
		runUpload(apiAddr, args)
	case "list":
		runList(apiAddr)
	case "get":
		runGetBatch(apiAddr, args)
	case "start", "pause", "cancel", "retry":
		runBatchCommand(apiAddr, cmd, args)
	case "stats":
		runStats(apiAddr)
	case "stress-login":
		runStressLogin(args)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `gspctl <command> [args]

API base address is read from GSPCTL_API (default http://localhost:8080).

commands:
  upload -name NAME -file PATH       upload an orders file as a new batch
  list                                list all batches
  get -id BATCH_ID                   show one batch
  start|pause|cancel|retry -id ID    run a batch lifecycle command
  stats                              show system-wide stats
  stress-login -n N                  open N concurrent login sessions against the portal`)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runUpload(apiAddr string, args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	name := fs.String("name", "", "batch name")
	description := fs.String("description", "", "batch description")
	path := fs.String("file", "", "path to the orders file (csv/xlsx)")
	_ = fs.Parse(args)

	if *name == "" || *path == "" {
		fmt.Fprintln(os.Stderr, "upload requires -name and -file")
		os.Exit(1)
	}

	file, err := os.Open(*path)
	if err != nil {
		fatalf("can't open file: %v", err)
	}
	defer func() { _ = file.Close() }()

	var body fileUploadBody
	if err := body.build(*name, *description, filepath.Base(*path), file); err != nil {
		fatalf("can't build upload body: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, apiAddr+"/batches/upload", body.buf)
	if err != nil {
		fatalf("can't build request: %v", err)
	}
	req.Header.Set("Content-Type", body.contentType)

	printResponse(http.DefaultClient.Do(req))
}

type fileUploadBody struct {
	buf         io.Reader
	contentType string
}

func (b *fileUploadBody) build(name, description, filename string, file io.Reader) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		defer mw.Close()

		_ = mw.WriteField("name", name)
		_ = mw.WriteField("description", description)

		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
	}()

	b.buf = pr
	b.contentType = mw.FormDataContentType()
	return nil
}

func runList(apiAddr string) {
	printResponse(http.Get(apiAddr + "/batches"))
}

func runGetBatch(apiAddr string, args []string) {
	id := parseIDFlag(args)
	printResponse(http.Get(fmt.Sprintf("%s/batches/%d", apiAddr, id)))
}

func runBatchCommand(apiAddr, cmd string, args []string) {
	id := parseIDFlag(args)
	printResponse(http.Post(fmt.Sprintf("%s/batches/%d/%s", apiAddr, id, cmd), "application/json", nil))
}

func runStats(apiAddr string) {
	printResponse(http.Get(apiAddr + "/stats"))
}

func parseIDFlag(args []string) int64 {
	fs := flag.NewFlagSet("id", flag.ExitOnError)
	id := fs.Int64("id", 0, "batch id")
	_ = fs.Parse(args)
	if *id == 0 {
		fmt.Fprintln(os.Stderr, "-id is required")
		os.Exit(1)
	}
	return *id
}

func runStressLogin(args []string) {
	fs := flag.NewFlagSet("stress-login", flag.ExitOnError)
	attempts := fs.Int("n", 5, "number of concurrent login sessions")
	_ = fs.Parse(args)

	cfg := config.MustLoad()
	log := slogpretty.SetupLogger(cfg.Env)

	browser, err := driver.Launch(cfg.Playwright, cfg.GSP, cfg.Proxy, cfg.Screenshot, log)
	if err != nil {
		log.Error("failed to launch browser driver", sl.Err(err))
		os.Exit(1)
	}
	defer func() { _ = browser.Close() }()

	results := browser.StressLogin(context.Background(), *attempts)

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
		fmt.Printf("attempt=%d success=%v time=%.2fs error=%q\n", r.Attempt, r.Success, r.LoginTimeSeconds, r.Error)
	}
	fmt.Printf("%d/%d sessions succeeded\n", succeeded, len(results))
}

func printResponse(resp *http.Response, err error) {
	if err != nil {
		fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("can't decode response: %v", err)
	}

	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fatalf("can't format response: %v", err)
	}
	fmt.Println(string(enc))

	if resp.StatusCode >= http.StatusBadRequest {
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
