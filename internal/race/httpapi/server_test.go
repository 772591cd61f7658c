package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/internal/chain"
	"github.com/radieske/horse-race-platform-poc/internal/race/dto"
	"github.com/radieske/horse-race-platform-poc/internal/race/repo"
	"github.com/radieske/horse-race-platform-poc/internal/race/scheduler"
	"github.com/radieske/horse-race-platform-poc/pkg/contracts/events"
)

type fakeStore struct {
	races     []repo.Race
	horses    []repo.Horse
	bets      []repo.Bet
	inserted  []repo.Bet
	insertErr error
	rotated   map[string]string // horseID -> nova wallet
}

func (f *fakeStore) GetRace(_ context.Context, raceID string) (*repo.Race, error) {
	for i := range f.races {
		if f.races[i].ID == raceID {
			cp := f.races[i]
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeStore) ListRacesByStatus(_ context.Context, statuses ...string) ([]repo.Race, error) {
	var out []repo.Race
	for _, r := range f.races {
		for _, s := range statuses {
			if r.Status == s {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListHorses(context.Context) ([]repo.Horse, error) {
	return f.horses, nil
}

func (f *fakeStore) ListConfirmedBets(_ context.Context, raceID string) ([]repo.Bet, error) {
	var out []repo.Bet
	for _, b := range f.bets {
		if b.RaceID == raceID && b.Status == repo.BetConfirmed {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertBet(_ context.Context, b *repo.Bet) (string, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserted = append(f.inserted, *b)
	return "bet-1", nil
}

func (f *fakeStore) UpdateHorseWallet(_ context.Context, horseID, wallet, _ string) error {
	if f.rotated == nil {
		f.rotated = map[string]string{}
	}
	f.rotated[horseID] = wallet
	return nil
}

type fakeChain struct {
	details map[string]*chain.TransactionDetail
}

func (f *fakeChain) RecentSignatures(context.Context, string, int) ([]chain.SignatureInfo, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) TransactionDetail(_ context.Context, signature string) (*chain.TransactionDetail, error) {
	d, ok := f.details[signature]
	if !ok {
		return nil, chain.ErrTransactionNotFound
	}
	return d, nil
}

func (f *fakeChain) Balance(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeChain) LatestBlockhash(context.Context) (string, error) { return "", nil }

func (f *fakeChain) SendTransferBatch(context.Context, *chain.Wallet, string, []chain.Transfer, uint64) (string, error) {
	return "", errors.New("not implemented")
}

type fakeTicker struct {
	summary scheduler.TickSummary
	err     error
	calls   int
}

func (f *fakeTicker) RunTick(context.Context) (scheduler.TickSummary, error) {
	f.calls++
	return f.summary, f.err
}

type fakePublisher struct {
	events []events.BetRecorded
}

func (f *fakePublisher) PublishBetRecorded(_ context.Context, ev events.BetRecorded) error {
	f.events = append(f.events, ev)
	return nil
}

var raceOpenedAt = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func openRace() repo.Race {
	return repo.Race{
		ID:              "race-1",
		Number:          7,
		Status:          repo.RaceOpen,
		OpenedAt:        raceOpenedAt,
		BettingDeadline: raceOpenedAt.Add(5 * time.Minute),
	}
}

func betDetail(sender, horseWallet string, lamports, blockTime int64) *chain.TransactionDetail {
	return &chain.TransactionDetail{
		Signature:    "sig1",
		BlockTime:    blockTime,
		AccountKeys:  []string{sender, horseWallet, "11111111111111111111111111111111"},
		PreBalances:  []int64{lamports * 2, 0, 1},
		PostBalances: []int64{lamports - 5000, lamports, 1},
	}
}

func newTestServer(store *fakeStore, c chain.Client, tick Ticker) (*Server, *fakePublisher) {
	pub := &fakePublisher{}
	return NewServer(zap.NewNop(), store, c, tick, pub, "cron-secret", "admin-secret"), pub
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSchedulerTick_RejectsBadSecret(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{}, &fakeChain{}, &fakeTicker{})
	h := srv.Router()

	rec := doJSON(t, h, http.MethodPost, "/scheduler/tick", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("no secret: got %d, want 403", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/scheduler/tick", nil, map[string]string{"X-Cron-Secret": "wrong"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong secret: got %d, want 403", rec.Code)
	}
}

func TestSchedulerTick_ReturnsSummary(t *testing.T) {
	tick := &fakeTicker{summary: scheduler.TickSummary{SettledRaces: 1, NewRaceID: "race-2", DepositsRecorded: 3}}
	srv, _ := newTestServer(&fakeStore{}, &fakeChain{}, tick)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/scheduler/tick", nil, map[string]string{"X-Cron-Secret": "cron-secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	var resp dto.TickResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ok || resp.SettledRaces != 1 || resp.NewRaceID != "race-2" || resp.DepositsRecorded != 3 {
		t.Errorf("got response %+v", resp)
	}
	if tick.calls != 1 {
		t.Errorf("tick called %d times, want 1", tick.calls)
	}
}

func TestSchedulerTick_ErrorStillRespondsJSON(t *testing.T) {
	tick := &fakeTicker{err: errors.New("db down"), summary: scheduler.TickSummary{Errors: 1}}
	srv, _ := newTestServer(&fakeStore{}, &fakeChain{}, tick)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/scheduler/tick", nil, map[string]string{"X-Cron-Secret": "cron-secret"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", rec.Code)
	}
	var resp dto.TickResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ok || resp.Message == "" {
		t.Errorf("got response %+v, want ok=false with message", resp)
	}
}

func TestPlaceBet_Success(t *testing.T) {
	store := &fakeStore{
		races:  []repo.Race{openRace()},
		horses: []repo.Horse{{ID: "h1", Name: "Relampago", Wallet: "HW1"}},
	}
	c := &fakeChain{details: map[string]*chain.TransactionDetail{
		"sig1": betDetail("bettor", "HW1", 1_000_000_000, raceOpenedAt.Unix()+60),
	}}
	srv, pub := newTestServer(store, c, &fakeTicker{})

	rec := doJSON(t, srv.Router(), http.MethodPost, "/bets", dto.PlaceBetRequest{
		RaceID: "race-1", HorseID: "h1", Wallet: "bettor", TxSignature: "sig1",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var resp dto.PlaceBetResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.BetID != "bet-1" || resp.Status != repo.BetConfirmed || resp.Lamports != 1_000_000_000 {
		t.Errorf("got response %+v", resp)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("got %d inserted bets, want 1", len(store.inserted))
	}
	bet := store.inserted[0]
	if bet.Status != repo.BetConfirmed || bet.Lamports != 1_000_000_000 || bet.Wallet != "bettor" {
		t.Errorf("inserted bet %+v", bet)
	}
	if len(pub.events) != 1 || pub.events[0].Origin != "api" {
		t.Errorf("published events %+v, want one with origin api", pub.events)
	}
}

func TestPlaceBet_Validation(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{}, &fakeChain{}, &fakeTicker{})
	h := srv.Router()

	rec := doJSON(t, h, http.MethodPost, "/bets", dto.PlaceBetRequest{RaceID: "race-1"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing fields: got %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/bets", dto.PlaceBetRequest{
		RaceID: "ghost", HorseID: "h1", Wallet: "w", TxSignature: "s",
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown race: got %d, want 404", rec.Code)
	}
}

func TestPlaceBet_RaceNotOpen(t *testing.T) {
	closed := openRace()
	closed.Status = repo.RaceClosed
	store := &fakeStore{races: []repo.Race{closed}, horses: []repo.Horse{{ID: "h1", Wallet: "HW1"}}}
	srv, _ := newTestServer(store, &fakeChain{}, &fakeTicker{})

	rec := doJSON(t, srv.Router(), http.MethodPost, "/bets", dto.PlaceBetRequest{
		RaceID: "race-1", HorseID: "h1", Wallet: "bettor", TxSignature: "sig1",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("got %d, want 409", rec.Code)
	}
}

func TestPlaceBet_TransactionMismatches(t *testing.T) {
	ts := raceOpenedAt.Unix() + 60
	cases := []struct {
		name   string
		detail *chain.TransactionDetail
		wallet string
	}{
		{"failed on chain", &chain.TransactionDetail{Failed: true, BlockTime: ts, AccountKeys: []string{"bettor", "HW1"}, PreBalances: []int64{1, 0}, PostBalances: []int64{0, 1}}, "bettor"},
		{"pays another wallet", betDetail("bettor", "OTHER", 1_000, ts), "bettor"},
		{"sender mismatch", betDetail("someone-else", "HW1", 1_000, ts), "bettor"},
		{"past the deadline", betDetail("bettor", "HW1", 1_000, raceOpenedAt.Add(6*time.Minute).Unix()), "bettor"},
		{"no block time", betDetail("bettor", "HW1", 1_000, 0), "bettor"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{races: []repo.Race{openRace()}, horses: []repo.Horse{{ID: "h1", Wallet: "HW1"}}}
			c := &fakeChain{details: map[string]*chain.TransactionDetail{"sig1": tc.detail}}
			srv, _ := newTestServer(store, c, &fakeTicker{})

			rec := doJSON(t, srv.Router(), http.MethodPost, "/bets", dto.PlaceBetRequest{
				RaceID: "race-1", HorseID: "h1", Wallet: tc.wallet, TxSignature: "sig1",
			}, nil)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("got %d, want 422", rec.Code)
			}
			if len(store.inserted) != 0 {
				t.Errorf("bet was inserted despite mismatch")
			}
		})
	}
}

func TestPlaceBet_DuplicateSignature(t *testing.T) {
	store := &fakeStore{
		races:     []repo.Race{openRace()},
		horses:    []repo.Horse{{ID: "h1", Wallet: "HW1"}},
		insertErr: repo.ErrDuplicateSignature,
	}
	c := &fakeChain{details: map[string]*chain.TransactionDetail{
		"sig1": betDetail("bettor", "HW1", 1_000, raceOpenedAt.Unix()+60),
	}}
	srv, pub := newTestServer(store, c, &fakeTicker{})

	rec := doJSON(t, srv.Router(), http.MethodPost, "/bets", dto.PlaceBetRequest{
		RaceID: "race-1", HorseID: "h1", Wallet: "bettor", TxSignature: "sig1",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("got %d, want 409", rec.Code)
	}
	if len(pub.events) != 0 {
		t.Errorf("duplicate bet published %d events, want 0", len(pub.events))
	}
}

func TestGetCurrentRace(t *testing.T) {
	store := &fakeStore{
		races:  []repo.Race{openRace()},
		horses: []repo.Horse{{ID: "h1", Name: "Relampago", Wallet: "HW1"}, {ID: "h2", Name: "Trovao", Wallet: "HW2"}},
		bets: []repo.Bet{
			{ID: "b1", RaceID: "race-1", HorseID: "h1", Lamports: 500, Status: repo.BetConfirmed},
			{ID: "b2", RaceID: "race-1", HorseID: "h1", Lamports: 300, Status: repo.BetConfirmed},
		},
	}
	srv, _ := newTestServer(store, &fakeChain{}, &fakeTicker{})

	rec := doJSON(t, srv.Router(), http.MethodGet, "/races/current", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	var view dto.RaceView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != "race-1" || view.Number != 7 {
		t.Errorf("got view %+v", view)
	}
	totals := map[string]int64{}
	for _, h := range view.Horses {
		totals[h.ID] = h.PoolLamports
	}
	if totals["h1"] != 800 || totals["h2"] != 0 {
		t.Errorf("got horse totals %v, want h1=800 h2=0", totals)
	}
}

func TestGetCurrentRace_NoActive(t *testing.T) {
	srv, _ := newTestServer(&fakeStore{}, &fakeChain{}, &fakeTicker{})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/races/current", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}
}

func TestGetRace_ClosedIncludesResult(t *testing.T) {
	race := openRace()
	race.Status = repo.RaceClosed
	race.WinnerHorseID = sql.NullString{String: "h1", Valid: true}
	race.Positions = []string{"h1", "h2"}
	store := &fakeStore{
		races:  []repo.Race{race},
		horses: []repo.Horse{{ID: "h1", Name: "Relampago"}, {ID: "h2", Name: "Trovao"}},
	}
	srv, _ := newTestServer(store, &fakeChain{}, &fakeTicker{})

	rec := doJSON(t, srv.Router(), http.MethodGet, "/races/race-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	var view dto.RaceView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.WinnerHorseID != "h1" {
		t.Errorf("got winner %q, want h1", view.WinnerHorseID)
	}
	if len(view.Positions) != 2 || view.Positions[0] != "h1" {
		t.Errorf("got positions %v", view.Positions)
	}
}

func TestAdminInitWallets(t *testing.T) {
	store := &fakeStore{horses: []repo.Horse{
		{ID: "h1", Name: "Relampago"},                                        // placeholder, recebe carteira
		{ID: "h2", Name: "Trovao", Wallet: "existing", SecretKey: "existing"}, // já tem
	}}
	srv, _ := newTestServer(store, &fakeChain{}, &fakeTicker{})
	h := srv.Router()

	rec := doJSON(t, h, http.MethodPost, "/admin/wallets/init", dto.InitWalletsRequest{Secret: "wrong"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong secret: got %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/admin/wallets/init", dto.InitWalletsRequest{
		Secret: "admin-secret", OnlyPlaceholders: true,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	var resp dto.InitWalletsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if _, ok := store.rotated["h1"]; !ok {
		t.Error("placeholder horse h1 should get a new wallet")
	}
	if _, ok := store.rotated["h2"]; ok {
		t.Error("h2 already had a wallet, should be skipped with onlyPlaceholders")
	}
	for _, r := range resp.Results {
		if !r.Ok {
			t.Errorf("result %+v, want ok", r)
		}
	}
}
