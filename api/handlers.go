package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/kuutamolabs/kld/errs"
	"github.com/kuutamolabs/kld/ln"
)

// routes registers every /v1/* handler, wrapping each in the macaroon
// middleware for its required role.
func (s *Server) routes() {
	s.mux.Handle("/v1/getinfo", s.withAuth(RoleReadonly, s.handleGetInfo))

	s.mux.Handle("/v1/peers", s.withAuth(RoleReadonly, s.handlePeers))
	s.mux.Handle("/v1/peers/connect", s.withAuth(RoleAdmin, s.handleConnectPeer))
	s.mux.Handle("/v1/peers/disconnect", s.withAuth(RoleAdmin, s.handleDisconnectPeer))

	s.mux.Handle("/v1/channels", s.withAuth(RoleReadonly, s.handleChannels))
	s.mux.Handle("/v1/channels/open", s.withAuth(RoleAdmin, s.handleOpenChannel))
	s.mux.Handle("/v1/channels/close", s.withAuth(RoleAdmin, s.handleCloseChannel))
	s.mux.Handle("/v1/channels/fee", s.withAuth(RoleAdmin, s.handleSetChannelFee))

	s.mux.Handle("/v1/invoices", s.withAuth(RoleReadonly, s.handleInvoices))
	s.mux.Handle("/v1/invoices/generate", s.withAuth(RoleAdmin, s.handleGenerateInvoice))

	s.mux.Handle("/v1/payments", s.withAuth(RoleReadonly, s.handlePayments))
	s.mux.Handle("/v1/payments/pay", s.withAuth(RoleAdmin, s.handlePayInvoice))
	s.mux.Handle("/v1/payments/keysend", s.withAuth(RoleAdmin, s.handleKeysend))

	s.mux.Handle("/v1/wallet/balance", s.withAuth(RoleReadonly, s.handleBalance))
	s.mux.Handle("/v1/wallet/address", s.withAuth(RoleAdmin, s.handleNewAddress))
	s.mux.Handle("/v1/wallet/withdraw", s.withAuth(RoleAdmin, s.handleWithdraw))

	s.mux.Handle("/v1/network/nodes", s.withAuth(RoleReadonly, s.handleNetworkNodes))
	s.mux.Handle("/v1/network/channels", s.withAuth(RoleReadonly, s.handleNetworkChannels))
	s.mux.Handle("/v1/network/liquidity", s.withAuth(RoleReadonly, s.handleEstimateLiquidity))

	s.mux.Handle("/v1/stream", s.withAuth(RoleReadonly, s.handleStream))
}

// withAuth verifies the caller's macaroon grants at least minRole before
// delegating to next, per spec §6.
func (s *Server) withAuth(minRole Role, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := macaroonFromRequest(r)
		if raw == "" {
			writeError(w, errs.Unauthorizedf("missing macaroon"))
			return
		}
		if err := s.auth.authenticate(raw, minRole); err != nil {
			writeError(w, errs.Wrap(errs.Unauthorized, "authenticating request", err))
			return
		}
		next(w, r)
	})
}

func parseNodeId(s string) (ln.NodeId, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(ln.NodeId{}) {
		return ln.NodeId{}, errs.BadRequestf("invalid public key %q", s)
	}
	var id ln.NodeId
	copy(id[:], raw)
	return id, nil
}

func parseChannelId(s string) (ln.ChannelId, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(ln.ChannelId{}) {
		return ln.ChannelId{}, errs.BadRequestf("invalid channel id %q", s)
	}
	var id ln.ChannelId
	copy(id[:], raw)
	return id, nil
}

type connectPeerRequest struct {
	PublicKey string `json:"public_key"`
	Address   string `json:"address,omitempty"`
}

func (s *Server) handleConnectPeer(w http.ResponseWriter, r *http.Request) {
	var req connectPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.BadRequestf("malformed request body"))
		return
	}
	remote, err := parseNodeId(req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}

	var addr *ln.SocketAddress
	if req.Address != "" {
		parsed, err := ln.ParseSocketAddress(req.Address)
		if err != nil {
			writeError(w, errs.BadRequestf("invalid address %q", req.Address))
			return
		}
		addr = &parsed
	}

	if err := s.ctrl.ConnectPeer(r.Context(), remote, addr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"public_key": remote.String()})
}

func (s *Server) handleDisconnectPeer(w http.ResponseWriter, r *http.Request) {
	remote, err := parseNodeId(r.URL.Query().Get("public_key"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.DisconnectPeer(r.Context(), remote); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "disconnected"})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.ctrl.ListPeers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, peers)
}

type openChannelRequest struct {
	PublicKey string  `json:"public_key"`
	ValueSat  uint64  `json:"value_sat"`
	PushMsat  uint64  `json:"push_msat,omitempty"`
	FeeRate   string  `json:"fee_rate,omitempty"`
}

func (s *Server) handleOpenChannel(w http.ResponseWriter, r *http.Request) {
	var req openChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.BadRequestf("malformed request body"))
		return
	}
	counterparty, err := parseNodeId(req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}

	var feeRate ln.FeeRate
	if req.FeeRate != "" {
		feeRate, err = ln.ParseFeeRate(req.FeeRate)
		if err != nil {
			writeError(w, errs.BadRequestf("invalid fee_rate %q", req.FeeRate))
			return
		}
	}

	result, err := s.ctrl.OpenChannel(r.Context(), counterparty, req.ValueSat, req.PushMsat, feeRate, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"tx":         hex.EncodeToString(result.Tx),
		"txid":       result.Txid,
		"channel_id": result.ChannelId.String(),
	})
}

type closeChannelRequest struct {
	ChannelId    string  `json:"channel_id"`
	PublicKey    string  `json:"public_key"`
	Force        bool    `json:"force,omitempty"`
	Broadcast    bool    `json:"broadcast,omitempty"`
	TargetFeeSat *uint32 `json:"target_feerate,omitempty"`
}

func (s *Server) handleCloseChannel(w http.ResponseWriter, r *http.Request) {
	var req closeChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.BadRequestf("malformed request body"))
		return
	}
	channelId, err := parseChannelId(req.ChannelId)
	if err != nil {
		writeError(w, err)
		return
	}
	counterparty, err := parseNodeId(req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Force {
		if err := s.ctrl.ForceCloseChannel(channelId, counterparty, req.Broadcast); err != nil {
			writeError(w, err)
			return
		}
	} else if err := s.ctrl.CloseChannel(channelId, counterparty, req.TargetFeeSat); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "closing"})
}

type setChannelFeeRequest struct {
	PublicKey              string   `json:"public_key"`
	ChannelIds             []string `json:"channel_ids,omitempty"`
	ForwardingFeeBaseMsat  *uint32  `json:"forwarding_fee_base_msat,omitempty"`
	ForwardingFeePPM       *uint32  `json:"forwarding_fee_ppm,omitempty"`
}

func (s *Server) handleSetChannelFee(w http.ResponseWriter, r *http.Request) {
	var req setChannelFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.BadRequestf("malformed request body"))
		return
	}
	counterparty, err := parseNodeId(req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	ids := make([]ln.ChannelId, 0, len(req.ChannelIds))
	for _, raw := range req.ChannelIds {
		id, err := parseChannelId(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		ids = append(ids, id)
	}

	result, err := s.ctrl.SetChannelFee(counterparty, ids, req.ForwardingFeeBaseMsat, req.ForwardingFeePPM)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.ctrl.ListChannels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, channels)
}

type generateInvoiceRequest struct {
	Label         string `json:"label,omitempty"`
	AmountMsat    *uint64 `json:"amount_msat,omitempty"`
	Description   string  `json:"description"`
	ExpirySeconds *uint32 `json:"expiry_seconds,omitempty"`
}

func (s *Server) handleGenerateInvoice(w http.ResponseWriter, r *http.Request) {
	var req generateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.BadRequestf("malformed request body"))
		return
	}

	var expiry *time.Duration
	if req.ExpirySeconds != nil {
		d := time.Duration(*req.ExpirySeconds) * time.Second
		expiry = &d
	}

	inv, err := s.ctrl.GenerateInvoice(r.Context(), req.Label, req.AmountMsat, req.Description, expiry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, inv)
}

func (s *Server) handleInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.ctrl.ListInvoices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, invoices)
}

type payInvoiceRequest struct {
	Bolt11 string  `json:"bolt11"`
	Label  *string `json:"label,omitempty"`
}

func (s *Server) handlePayInvoice(w http.ResponseWriter, r *http.Request) {
	var req payInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.BadRequestf("malformed request body"))
		return
	}
	payment, err := s.ctrl.PayInvoice(r.Context(), req.Bolt11, req.Label)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, payment)
}

type keysendRequest struct {
	PublicKey  string `json:"public_key"`
	AmountMsat uint64 `json:"amount_msat"`
}

func (s *Server) handleKeysend(w http.ResponseWriter, r *http.Request) {
	var req keysendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.BadRequestf("malformed request body"))
		return
	}
	payee, err := parseNodeId(req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	payment, err := s.ctrl.KeysendPayment(r.Context(), payee, req.AmountMsat)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, payment)
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.ctrl.ListPayments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, payments)
}

func (s *Server) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.ctrl.GetInfo(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"id":               info.NodeId.String(),
		"alias":            info.Alias,
		"network":          info.Network,
		"block_height":     info.BlockHeight,
		"num_peers":        info.NumPeers,
		"num_active_chans": info.NumActiveChans,
		"num_public_chans": info.NumPublicChans,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.ctrl.GetBalance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, bal)
}

func (s *Server) handleNewAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := s.ctrl.NewAddress(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"address": addr.String()})
}

type withdrawRequest struct {
	Address string `json:"address"`
	AmountSat uint64 `json:"amount_sat"`
	FeeRate   string `json:"fee_rate,omitempty"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.BadRequestf("malformed request body"))
		return
	}
	addr, err := btcutil.DecodeAddress(req.Address, s.params)
	if err != nil {
		writeError(w, errs.BadRequestf("invalid address %q", req.Address))
		return
	}
	var feeRate ln.FeeRate
	if req.FeeRate != "" {
		feeRate, err = ln.ParseFeeRate(req.FeeRate)
		if err != nil {
			writeError(w, errs.BadRequestf("invalid fee_rate %q", req.FeeRate))
			return
		}
	}

	tx, err := s.ctrl.Withdraw(r.Context(), addr, req.AmountSat, feeRate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"txid": tx.TxHash().String()})
}

func (s *Server) handleNetworkNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ctrl.ListNetworkNodes())
}

func (s *Server) handleNetworkChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ctrl.ListNetworkChannels())
}

func (s *Server) handleEstimateLiquidity(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("short_channel_id")
	scid, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, errs.BadRequestf("invalid short_channel_id %q", raw))
		return
	}
	estimate, err := s.ctrl.EstimateChannelLiquidity(ln.ShortChannelId(scid))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, estimate)
}

