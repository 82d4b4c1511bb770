package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/metrics"
	"github.com/batua/wallet/src/service/resolver"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLogoBaseURL = "https://raw.githubusercontent.com/trustwallet/assets/master/blockchains/ethereum/assets/"
	DefaultIPFSGateway = "https://ipfs.io/ipfs/"

	// simulationBalance is credited to the sender so a simulation does not
	// fail only because the account is unfunded.
	simulationBalance = 10000

	defaultConcurrency = 8
)

// Account is the smart account a user operation belongs to.
type Account interface {
	Address() common.Address
	DecodeCalls(callData []byte) ([]domain.Call, error)
	Node() *resolver.RpcClient
}

type Options struct {
	HTTPClient  *resty.Client
	Cache       *bigcache.BigCache
	LogoBaseURL string
	IPFSGateway string
	Concurrency int
	Metrics     metrics.Recorder
}

// Simulator previews the token movements of a user operation.
type Simulator struct {
	http        *resty.Client
	cache       *bigcache.BigCache
	ownsCache   bool
	logoBaseURL string
	ipfsGateway string
	concurrency int
	metrics     metrics.Recorder
}

func New(ctx context.Context, opts Options) (*Simulator, error) {
	s := &Simulator{
		http:        opts.HTTPClient,
		cache:       opts.Cache,
		logoBaseURL: opts.LogoBaseURL,
		ipfsGateway: opts.IPFSGateway,
		concurrency: opts.Concurrency,
		metrics:     metrics.OrNoop(opts.Metrics),
	}
	if s.http == nil {
		s.http = resty.New().SetTimeout(10 * time.Second)
	}
	if s.cache == nil {
		config := bigcache.DefaultConfig(30 * time.Minute)
		config.CleanWindow = 5 * time.Minute
		config.Shards = 64
		config.MaxEntrySize = 512
		cache, err := bigcache.New(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create metadata cache: %w", err)
		}
		s.cache = cache
		s.ownsCache = true
	}
	if s.logoBaseURL == "" {
		s.logoBaseURL = DefaultLogoBaseURL
	}
	if s.ipfsGateway == "" {
		s.ipfsGateway = DefaultIPFSGateway
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	return s, nil
}

func (s *Simulator) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "simulate").Logger()
	return &l
}

// Close releases the metadata cache when the simulator created it.
func (s *Simulator) Close() error {
	if s.ownsCache {
		return s.cache.Close()
	}
	return nil
}

type simCall struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data,omitempty"`
	Value *hexutil.Big   `json:"value,omitempty"`
}

type simBlock struct {
	StateOverrides erc4337.StateOverride `json:"stateOverrides,omitempty"`
	Calls          []simCall             `json:"calls"`
}

type simOpts struct {
	BlockStateCalls []simBlock `json:"blockStateCalls"`
	Validation      bool       `json:"validation"`
}

type simCallResult struct {
	Status hexutil.Uint64 `json:"status"`
	Logs   []Log          `json:"logs"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type simBlockResult struct {
	Calls []simCallResult `json:"calls"`
}

// Simulate runs the operation's calls against the latest block and returns
// the enriched asset changes. Any simulation failure yields an empty list.
func (s *Simulator) Simulate(ctx context.Context, account Account, op *erc4337.UserOperation) []AssetChangeEvent {
	logger := s.logger(ctx).With().Str("sender", op.Sender.Hex()).Logger()

	calls, err := account.DecodeCalls(op.CallData)
	if err != nil || len(calls) == 0 {
		calls = []domain.Call{{To: op.Sender, Data: op.CallData}}
	}

	node := account.Node()
	logs, err := s.simulateCalls(ctx, node, op.Sender, calls)
	if err != nil {
		logger.Warn().Err(err).Msg("simulation failed")
		s.metrics.IncSimulation("failed")
		return []AssetChangeEvent{}
	}
	s.metrics.IncSimulation("ok")

	events := ParseLogs(logs)
	if len(events) == 0 {
		return []AssetChangeEvent{}
	}
	return s.enrich(ctx, node, events)
}

func (s *Simulator) simulateCalls(ctx context.Context, node *resolver.RpcClient, sender common.Address, calls []domain.Call) ([]Log, error) {
	block := simBlock{
		StateOverrides: erc4337.BalanceOverride(sender, erc4337.Ether(simulationBalance)),
		Calls: lo.Map(calls, func(c domain.Call, _ int) simCall {
			return simCall{From: sender, To: c.To, Data: c.Data, Value: c.Value}
		}),
	}
	var results []simBlockResult
	if err := node.Raw().CallContext(ctx, &results, "eth_simulateV1", simOpts{BlockStateCalls: []simBlock{block}}, "latest"); err != nil {
		return nil, fmt.Errorf("failed to simulate calls: %w", err)
	}
	var logs []Log
	for _, r := range results {
		for _, c := range r.Calls {
			if c.Status != 1 || c.Error != nil {
				continue
			}
			logs = append(logs, c.Logs...)
		}
	}
	return logs, nil
}

// enrich attaches token, NFT and ENS details to copies of events.
func (s *Simulator) enrich(ctx context.Context, node *resolver.RpcClient, events []AssetChangeEvent) []AssetChangeEvent {
	out := lo.Map(events, func(e AssetChangeEvent, _ int) AssetChangeEvent { return e.Clone() })
	chainID := node.Chain.ID

	erc20Contracts := lo.Uniq(lo.FilterMap(out, func(e AssetChangeEvent, _ int) (common.Address, bool) {
		return e.Contract, e.Standard == StandardERC20
	}))
	erc721Contracts := lo.Uniq(lo.FilterMap(out, func(e AssetChangeEvent, _ int) (common.Address, bool) {
		return e.Contract, e.Standard == StandardERC721
	}))
	counterparties := lo.Uniq(lo.FilterMap(out, func(e AssetChangeEvent, _ int) (common.Address, bool) {
		return e.To, e.To != (common.Address{})
	}))

	var (
		mu     sync.Mutex
		tokens = make(map[common.Address]TokenInfo)
		names  = make(map[common.Address]string)
		nfts   = make([]Lookup[NftInfo], len(out))
	)

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, contract := range erc20Contracts {
		g.Go(func() error {
			info := s.erc20Info(ctx, node, chainID, contract)
			mu.Lock()
			tokens[contract] = info
			mu.Unlock()
			return nil
		})
	}
	for _, contract := range erc721Contracts {
		g.Go(func() error {
			info := s.erc721Info(ctx, node, chainID, contract)
			mu.Lock()
			tokens[contract] = info
			mu.Unlock()
			return nil
		})
	}
	if registry := node.Chain.EnsRegistry; registry != nil {
		for _, addr := range counterparties {
			g.Go(func() error {
				name := s.ensName(ctx, node, chainID, *registry, addr)
				if !name.OK() {
					s.logger(ctx).Debug().Err(name.Err).Str("address", addr.Hex()).Msg("ens lookup failed")
				}
				mu.Lock()
				names[addr] = name.Or("")
				mu.Unlock()
				return nil
			})
		}
	}
	for i, e := range out {
		if e.Standard != StandardERC721 || e.Name != EventTransfer || e.TokenID == nil {
			continue
		}
		g.Go(func() error {
			nfts[i] = s.nftInfo(ctx, node, chainID, e.Contract, e.TokenID)
			return nil
		})
	}
	// lookups record their own errors
	_ = g.Wait()

	for i := range out {
		e := &out[i]
		if info, ok := tokens[e.Contract]; ok && (e.Standard == StandardERC20 || info.Name != "" || info.Symbol != "") {
			e.TokenInfo = &info
		}
		e.EnsName = names[e.To]
		if nfts[i].OK() && nfts[i].Value != (NftInfo{}) {
			info := nfts[i].Value
			e.NftInfo = &info
		}
	}
	return out
}

func cacheGet[T any](s *Simulator, key string) (T, bool) {
	var v T
	data, err := s.cache.Get(key)
	if err != nil {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false
	}
	return v, true
}

func cacheSet(s *Simulator, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	// a full cache only costs a refetch
	_ = s.cache.Set(key, data)
}

func (s *Simulator) erc20Info(ctx context.Context, node *resolver.RpcClient, chainID uint64, contract common.Address) TokenInfo {
	key := fmt.Sprintf("erc20:%d:%s", chainID, contract.Hex())
	if info, ok := cacheGet[TokenInfo](s, key); ok {
		return info
	}
	info, complete := tokenMetadata(ctx, node, contract)
	if logo := s.logo(ctx, contract); logo.OK() {
		info.Logo = logo.Value
	}
	if complete {
		cacheSet(s, key, info)
	}
	return info
}

func (s *Simulator) erc721Info(ctx context.Context, node *resolver.RpcClient, chainID uint64, contract common.Address) TokenInfo {
	key := fmt.Sprintf("erc721:%d:%s", chainID, contract.Hex())
	if info, ok := cacheGet[TokenInfo](s, key); ok {
		return info
	}
	info, complete := collectionMetadata(ctx, node, contract)
	if complete {
		cacheSet(s, key, info)
	}
	return info
}

// logo probes the trustwallet asset repository. A missing logo is "".
func (s *Simulator) logo(ctx context.Context, contract common.Address) Lookup[string] {
	url := s.logoBaseURL + contract.Hex() + "/logo.png"
	key := "logo:" + url
	if logo, ok := cacheGet[string](s, key); ok {
		return Lookup[string]{Value: logo}
	}
	resp, err := s.http.R().SetContext(ctx).Head(url)
	if err != nil {
		return Lookup[string]{Err: fmt.Errorf("failed to probe logo: %w", err)}
	}
	logo := ""
	if resp.IsSuccess() {
		logo = url
	}
	cacheSet(s, key, logo)
	return Lookup[string]{Value: logo}
}

func (s *Simulator) ensName(ctx context.Context, node *resolver.RpcClient, chainID uint64, registry, addr common.Address) Lookup[string] {
	key := fmt.Sprintf("ens:%d:%s", chainID, addr.Hex())
	if name, ok := cacheGet[string](s, key); ok {
		return Lookup[string]{Value: name}
	}
	name := reverseName(ctx, node, registry, addr)
	if name.OK() {
		cacheSet(s, key, name.Value)
	}
	return name
}

func (s *Simulator) nftInfo(ctx context.Context, node *resolver.RpcClient, chainID uint64, contract common.Address, tokenID *big.Int) Lookup[NftInfo] {
	key := fmt.Sprintf("nft:%d:%s:%s", chainID, contract.Hex(), tokenID)
	if info, ok := cacheGet[NftInfo](s, key); ok {
		return Lookup[NftInfo]{Value: info}
	}
	uri := tokenURI(ctx, node, contract, tokenID)
	if !uri.OK() {
		return Lookup[NftInfo]{Err: uri.Err}
	}
	if uri.Value == "" {
		return Lookup[NftInfo]{}
	}
	resp, err := s.http.R().SetContext(ctx).Get(rewriteIPFS(uri.Value, s.ipfsGateway))
	if err != nil {
		return Lookup[NftInfo]{Err: fmt.Errorf("failed to fetch token metadata: %w", err)}
	}
	if !resp.IsSuccess() {
		return Lookup[NftInfo]{Err: fmt.Errorf("token metadata returned status %d", resp.StatusCode())}
	}
	metadata, err := decodeMetadata(resp.Body())
	if err != nil {
		return Lookup[NftInfo]{Err: err}
	}
	info := metadata.info(s.ipfsGateway)
	cacheSet(s, key, info)
	return lookupOf(info, nil)
}
