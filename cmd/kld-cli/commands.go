package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/urfave/cli"
)

var getInfoCommand = cli.Command{
	Name:  "getinfo",
	Usage: "returns basic information about kld's identity and state",
	Action: func(ctx *cli.Context) error {
		var resp map[string]any
		if err := getClient(ctx).get("/v1/getinfo", &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var connectCommand = cli.Command{
	Name:      "connect",
	Usage:     "connect to a remote kld peer",
	ArgsUsage: "<pubkey>[@host:port]",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() == 0 {
			return fmt.Errorf("pubkey argument missing")
		}
		pubkey, address, _ := strings.Cut(ctx.Args().First(), "@")
		req := map[string]string{"public_key": pubkey, "address": address}
		var resp map[string]any
		if err := getClient(ctx).post("/v1/peers/connect", req, &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var disconnectCommand = cli.Command{
	Name:      "disconnect",
	Usage:     "disconnect a remote kld peer",
	ArgsUsage: "<pubkey>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() == 0 {
			return fmt.Errorf("pubkey argument missing")
		}
		path := "/v1/peers/disconnect?public_key=" + url.QueryEscape(ctx.Args().First())
		var resp map[string]any
		if err := getClient(ctx).post(path, nil, &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var listPeersCommand = cli.Command{
	Name:  "listpeers",
	Usage: "list the node's connected and persisted peers",
	Action: func(ctx *cli.Context) error {
		var resp any
		if err := getClient(ctx).get("/v1/peers", &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var listChannelsCommand = cli.Command{
	Name:  "listchannels",
	Usage: "list the node's channels, open and closed",
	Action: func(ctx *cli.Context) error {
		var resp any
		if err := getClient(ctx).get("/v1/channels", &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var openChannelCommand = cli.Command{
	Name:      "openchannel",
	Usage:     "open a channel to an existing peer",
	ArgsUsage: "pubkey value_sat",
	Flags: []cli.Flag{
		cli.Uint64Flag{Name: "push_msat", Usage: "amount in msat to push to the remote side"},
		cli.StringFlag{Name: "fee_rate", Usage: "fee rate for the funding transaction: urgent, normal, slow, <n>perkw or <n>perkb"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 2 {
			return fmt.Errorf("usage: openchannel pubkey value_sat")
		}
		valueSat, err := strconv.ParseUint(ctx.Args().Get(1), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value_sat: %w", err)
		}
		req := map[string]any{
			"public_key": ctx.Args().First(),
			"value_sat":  valueSat,
			"push_msat":  ctx.Uint64("push_msat"),
			"fee_rate":   ctx.String("fee_rate"),
		}
		var resp map[string]any
		if err := getClient(ctx).post("/v1/channels/open", req, &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var closeChannelCommand = cli.Command{
	Name:      "closechannel",
	Usage:     "close an existing channel",
	ArgsUsage: "channel_id pubkey",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "force", Usage: "force-close rather than cooperatively close"},
		cli.BoolFlag{Name: "broadcast", Usage: "broadcast the force-close transaction immediately"},
		cli.Uint64Flag{Name: "target_feerate", Usage: "target feerate for a cooperative close"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 2 {
			return fmt.Errorf("usage: closechannel channel_id pubkey")
		}
		req := map[string]any{
			"channel_id": ctx.Args().First(),
			"public_key": ctx.Args().Get(1),
			"force":      ctx.Bool("force"),
			"broadcast":  ctx.Bool("broadcast"),
		}
		if ctx.IsSet("target_feerate") {
			target := uint32(ctx.Uint64("target_feerate"))
			req["target_feerate"] = target
		}
		var resp map[string]any
		if err := getClient(ctx).post("/v1/channels/close", req, &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var setChannelFeeCommand = cli.Command{
	Name:      "setchannelfee",
	Usage:     "set the forwarding fee policy for one or all channels with a peer",
	ArgsUsage: "pubkey",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "channel_ids", Usage: "comma-separated channel ids; all channels with the peer if omitted"},
		cli.Uint64Flag{Name: "base_fee_msat", Usage: "new forwarding base fee in msat"},
		cli.Uint64Flag{Name: "fee_ppm", Usage: "new forwarding fee rate in parts per million"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() == 0 {
			return fmt.Errorf("pubkey argument missing")
		}
		req := map[string]any{"public_key": ctx.Args().First()}
		if ctx.IsSet("channel_ids") {
			req["channel_ids"] = strings.Split(ctx.String("channel_ids"), ",")
		}
		if ctx.IsSet("base_fee_msat") {
			v := uint32(ctx.Uint64("base_fee_msat"))
			req["forwarding_fee_base_msat"] = v
		}
		if ctx.IsSet("fee_ppm") {
			v := uint32(ctx.Uint64("fee_ppm"))
			req["forwarding_fee_ppm"] = v
		}
		var resp map[string]any
		if err := getClient(ctx).post("/v1/channels/fee", req, &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var invoiceCommand = cli.Command{
	Name:      "invoice",
	Usage:     "generate a new invoice",
	ArgsUsage: "label description",
	Flags: []cli.Flag{
		cli.Uint64Flag{Name: "amt_msat", Usage: "invoice amount in msat; omitted for an any-amount invoice"},
		cli.Uint64Flag{Name: "expiry", Usage: "invoice expiry in seconds"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 2 {
			return fmt.Errorf("usage: invoice label description")
		}
		req := map[string]any{
			"label":       ctx.Args().First(),
			"description": ctx.Args().Get(1),
		}
		if ctx.IsSet("amt_msat") {
			amt := ctx.Uint64("amt_msat")
			req["amount_msat"] = amt
		}
		if ctx.IsSet("expiry") {
			expiry := uint32(ctx.Uint64("expiry"))
			req["expiry_seconds"] = expiry
		}
		var resp map[string]any
		if err := getClient(ctx).post("/v1/invoices/generate", req, &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var listInvoicesCommand = cli.Command{
	Name:  "listinvoices",
	Usage: "list generated invoices",
	Action: func(ctx *cli.Context) error {
		var resp any
		if err := getClient(ctx).get("/v1/invoices", &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var payInvoiceCommand = cli.Command{
	Name:      "payinvoice",
	Usage:     "pay a bolt11 invoice",
	ArgsUsage: "bolt11",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "label", Usage: "a label to attach to the payment"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() == 0 {
			return fmt.Errorf("bolt11 argument missing")
		}
		req := map[string]any{"bolt11": ctx.Args().First()}
		if ctx.IsSet("label") {
			label := ctx.String("label")
			req["label"] = label
		}
		var resp map[string]any
		if err := getClient(ctx).post("/v1/payments/pay", req, &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var keysendCommand = cli.Command{
	Name:      "keysend",
	Usage:     "pay a node directly without an invoice",
	ArgsUsage: "pubkey amount_msat",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 2 {
			return fmt.Errorf("usage: keysend pubkey amount_msat")
		}
		amountMsat, err := strconv.ParseUint(ctx.Args().Get(1), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount_msat: %w", err)
		}
		req := map[string]any{
			"public_key":  ctx.Args().First(),
			"amount_msat": amountMsat,
		}
		var resp map[string]any
		if err := getClient(ctx).post("/v1/payments/keysend", req, &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var listPaymentsCommand = cli.Command{
	Name:  "listpayments",
	Usage: "list payments, outbound and inbound",
	Action: func(ctx *cli.Context) error {
		var resp any
		if err := getClient(ctx).get("/v1/payments", &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var estimateLiquidityCommand = cli.Command{
	Name:      "estimatechannelliquidity",
	Usage:     "estimate a channel's liquidity from the probing scorer's history",
	ArgsUsage: "short_channel_id",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() == 0 {
			return fmt.Errorf("short_channel_id argument missing")
		}
		path := "/v1/network/liquidity?short_channel_id=" + url.QueryEscape(ctx.Args().First())
		var resp any
		if err := getClient(ctx).get(path, &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var networkNodesCommand = cli.Command{
	Name:  "networknodes",
	Usage: "list nodes known from gossip",
	Action: func(ctx *cli.Context) error {
		var resp any
		if err := getClient(ctx).get("/v1/network/nodes", &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var networkChannelsCommand = cli.Command{
	Name:  "networkchannels",
	Usage: "list channels known from gossip",
	Action: func(ctx *cli.Context) error {
		var resp any
		if err := getClient(ctx).get("/v1/network/channels", &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var getBalanceCommand = cli.Command{
	Name:  "getbalance",
	Usage: "returns the wallet's on-chain balance",
	Action: func(ctx *cli.Context) error {
		var resp any
		if err := getClient(ctx).get("/v1/wallet/balance", &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var newAddressCommand = cli.Command{
	Name:  "newaddress",
	Usage: "generates a new wallet address",
	Action: func(ctx *cli.Context) error {
		var resp map[string]any
		if err := getClient(ctx).post("/v1/wallet/address", nil, &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}

var withdrawCommand = cli.Command{
	Name:      "withdraw",
	Usage:     "send on-chain funds to an address",
	ArgsUsage: "address amount_sat",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "fee_rate", Usage: "fee rate for the withdrawal transaction: urgent, normal, slow, <n>perkw or <n>perkb"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 2 {
			return fmt.Errorf("usage: withdraw address amount_sat")
		}
		amountSat, err := strconv.ParseUint(ctx.Args().Get(1), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount_sat: %w", err)
		}
		req := map[string]any{
			"address":    ctx.Args().First(),
			"amount_sat": amountSat,
			"fee_rate":   ctx.String("fee_rate"),
		}
		var resp map[string]any
		if err := getClient(ctx).post("/v1/wallet/withdraw", req, &resp); err != nil {
			return err
		}
		printJson(resp)
		return nil
	},
}
