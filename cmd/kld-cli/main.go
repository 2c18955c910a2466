// kld-cli is the control-plane client for kld, generalized from
// cmd/lncli's app scaffolding: the same global flags and
// getClient/fatal/cleanAndExpandPath shape, speaking REST-over-TLS with
// a macaroon header instead of dialing a grpc.ClientConn.
package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli"
)

const (
	defaultTLSCertFilename      = "tls.cert"
	defaultAdminMacaroonFilename = "admin.macaroon"
)

var (
	kldHomeDir          = btcutil.AppDataDir("kld", false)
	defaultTLSCertPath  = filepath.Join(kldHomeDir, defaultTLSCertFilename)
	defaultMacaroonPath = filepath.Join(kldHomeDir, "macaroons", defaultAdminMacaroonFilename)
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[kld-cli] %v\n", err)
	os.Exit(1)
}

// restClient is the REST analogue of lncli's lnrpc.LightningClient: one
// HTTP client carrying the TLS root and macaroon every request needs.
type restClient struct {
	http        *http.Client
	baseURL     string
	macaroonHex string
}

func getClient(ctx *cli.Context) *restClient {
	tlsCertPath := cleanAndExpandPath(ctx.GlobalString("tlscertpath"))
	certPEM, err := os.ReadFile(tlsCertPath)
	if err != nil {
		fatal(fmt.Errorf("reading tls cert: %w", err))
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(certPEM) {
		fatal(fmt.Errorf("parsing tls cert %s", tlsCertPath))
	}

	var macHex string
	if !ctx.GlobalBool("no-macaroons") {
		macPath := cleanAndExpandPath(ctx.GlobalString("macaroonpath"))
		macBytes, err := os.ReadFile(macPath)
		if err != nil {
			fatal(fmt.Errorf("reading macaroon: %w", err))
		}
		macHex = hex.EncodeToString(macBytes)
	}

	return &restClient{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: pool},
			},
		},
		baseURL:     "https://" + ctx.GlobalString("rpcserver"),
		macaroonHex: macHex,
	}
}

func (c *restClient) do(method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.macaroonHex != "" {
		req.Header.Set("macaroon", c.macaroonHex)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *restClient) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *restClient) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

// printJson mirrors lncli's printJson: indent and dump to stdout.
func printJson(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		fatal(err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "\t"); err != nil {
		fatal(err)
	}
	out.WriteTo(os.Stdout)
	fmt.Println()
}

func main() {
	app := cli.NewApp()
	app.Name = "kld-cli"
	app.Usage = "control plane for kld"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "127.0.0.1:2244",
			Usage: "host:port of the REST management API",
		},
		cli.StringFlag{
			Name:  "tlscertpath",
			Value: defaultTLSCertPath,
			Usage: "path to TLS certificate",
		},
		cli.BoolFlag{
			Name:  "no-macaroons",
			Usage: "disable macaroon authentication",
		},
		cli.StringFlag{
			Name:  "macaroonpath",
			Value: defaultMacaroonPath,
			Usage: "path to macaroon file",
		},
	}
	app.Commands = []cli.Command{
		getInfoCommand,
		connectCommand,
		disconnectCommand,
		listPeersCommand,
		listChannelsCommand,
		openChannelCommand,
		closeChannelCommand,
		setChannelFeeCommand,
		invoiceCommand,
		listInvoicesCommand,
		payInvoiceCommand,
		keysendCommand,
		listPaymentsCommand,
		estimateLiquidityCommand,
		networkNodesCommand,
		networkChannelsCommand,
		getBalanceCommand,
		newAddressCommand,
		withdrawCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// cleanAndExpandPath expands environment variables and a leading ~ in
// the passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(kldHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}
