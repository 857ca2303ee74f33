package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"synthvault/storage"
)

var (
	collateralPrefix = []byte("vault/collateral/")
	positionPrefix   = []byte("vault/position/")
	userStatusPrefix = []byte("vault/user/")
	globalStatusKey  = []byte("vault/global")
	settingsKey      = []byte("vault/settings")
)

// KVState persists vault records as JSON documents in a storage.Database.
// Commit writes the whole changeset through one atomic batch.
type KVState struct {
	db storage.Database
}

// NewKVState wraps db.
func NewKVState(db storage.Database) *KVState {
	return &KVState{db: db}
}

func collateralKey(asset common.Address) []byte {
	return append(append([]byte{}, collateralPrefix...), asset.Bytes()...)
}

func positionAssetPrefix(asset common.Address) []byte {
	return append(append([]byte{}, positionPrefix...), asset.Bytes()...)
}

func positionStoreKey(user, asset common.Address) []byte {
	return append(positionAssetPrefix(asset), user.Bytes()...)
}

func userStatusKey(user common.Address) []byte {
	return append(append([]byte{}, userStatusPrefix...), user.Bytes()...)
}

type collateralRecord struct {
	Asset               common.Address `json:"asset"`
	Symbol              string         `json:"symbol,omitempty"`
	Price               string         `json:"price"`
	MaxLTVBps           uint64         `json:"maxLtvBps"`
	LiquidationBonusBps uint64         `json:"liquidationBonusBps"`
	Decimals            uint8          `json:"decimals"`
	Enabled             bool           `json:"enabled"`
	LastPriceUpdate     time.Time      `json:"lastPriceUpdate"`
	StaleAfter          time.Duration  `json:"staleAfter"`
}

type positionRecord struct {
	User             common.Address `json:"user"`
	Asset            common.Address `json:"asset"`
	Collateral       string         `json:"collateral"`
	Debt             string         `json:"debt"`
	OpenedAt         time.Time      `json:"openedAt"`
	LastMintAt       time.Time      `json:"lastMintAt"`
	LastAutoRewardAt time.Time      `json:"lastAutoRewardAt"`
}

type mintStatusRecord struct {
	DailyMintCount uint64    `json:"dailyMintCount"`
	DailyMinted    string    `json:"dailyMinted"`
	WindowStart    time.Time `json:"windowStart"`
	LastMintAt     time.Time `json:"lastMintAt"`
}

type settingsRecord struct {
	Paused                bool          `json:"paused"`
	AutoMintEnabled       bool          `json:"autoMintEnabled"`
	CooldownPeriod        time.Duration `json:"cooldownPeriod"`
	MaxMintPerTx          string        `json:"maxMintPerTx"`
	MaxMintsPerUserPerDay uint64        `json:"maxMintsPerUserPerDay"`
	MaxMintPerUserPerDay  string        `json:"maxMintPerUserPerDay"`
	MaxGlobalMintPerDay   string        `json:"maxGlobalMintPerDay"`
	BaseReward            string        `json:"baseReward"`
	BonusMultiplierBps    uint64        `json:"bonusMultiplierBps"`
	MinHoldTime           time.Duration `json:"minHoldTime"`
	MinEligibleRatioBps   uint64        `json:"minEligibleRatioBps"`
}

func decString(v *uint256.Int) string {
	return cloneAmount(v).Dec()
}

func parseDec(field, value string) (*uint256.Int, error) {
	if value == "" {
		return zero(), nil
	}
	out, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", field, err)
	}
	return out, nil
}

func (s *KVState) load(key []byte, dst interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (r collateralRecord) decode() (*CollateralConfig, error) {
	price, err := parseDec("price", r.Price)
	if err != nil {
		return nil, err
	}
	return &CollateralConfig{
		Asset:               r.Asset,
		Symbol:              r.Symbol,
		Price:               price,
		MaxLTVBps:           r.MaxLTVBps,
		LiquidationBonusBps: r.LiquidationBonusBps,
		Decimals:            r.Decimals,
		Enabled:             r.Enabled,
		LastPriceUpdate:     r.LastPriceUpdate,
		StaleAfter:          r.StaleAfter,
	}, nil
}

func (r positionRecord) decode() (*Position, error) {
	collateral, err := parseDec("collateral", r.Collateral)
	if err != nil {
		return nil, err
	}
	debt, err := parseDec("debt", r.Debt)
	if err != nil {
		return nil, err
	}
	return &Position{
		User:             r.User,
		Asset:            r.Asset,
		Collateral:       collateral,
		Debt:             debt,
		OpenedAt:         r.OpenedAt,
		LastMintAt:       r.LastMintAt,
		LastAutoRewardAt: r.LastAutoRewardAt,
	}, nil
}

func (r mintStatusRecord) decode() (*MintStatus, error) {
	minted, err := parseDec("dailyMinted", r.DailyMinted)
	if err != nil {
		return nil, err
	}
	return &MintStatus{DailyMintCount: r.DailyMintCount, DailyMinted: minted, WindowStart: r.WindowStart, LastMintAt: r.LastMintAt}, nil
}

func (r settingsRecord) decode() (*Settings, error) {
	fields := map[string]string{
		"maxMintPerTx":         r.MaxMintPerTx,
		"maxMintPerUserPerDay": r.MaxMintPerUserPerDay,
		"maxGlobalMintPerDay":  r.MaxGlobalMintPerDay,
		"baseReward":           r.BaseReward,
	}
	parsed := make(map[string]*uint256.Int, len(fields))
	for name, value := range fields {
		v, err := parseDec(name, value)
		if err != nil {
			return nil, err
		}
		parsed[name] = v
	}
	return &Settings{
		Paused:          r.Paused,
		AutoMintEnabled: r.AutoMintEnabled,
		Limits: Limits{
			CooldownPeriod:        r.CooldownPeriod,
			MaxMintPerTx:          parsed["maxMintPerTx"],
			MaxMintsPerUserPerDay: r.MaxMintsPerUserPerDay,
			MaxMintPerUserPerDay:  parsed["maxMintPerUserPerDay"],
			MaxGlobalMintPerDay:   parsed["maxGlobalMintPerDay"],
		},
		AutoReward: AutoRewardConfig{
			BaseReward:          parsed["baseReward"],
			BonusMultiplierBps:  r.BonusMultiplierBps,
			MinHoldTime:         r.MinHoldTime,
			MinEligibleRatioBps: r.MinEligibleRatioBps,
		},
	}, nil
}

func (s *KVState) Collateral(asset common.Address) (*CollateralConfig, error) {
	var rec collateralRecord
	ok, err := s.load(collateralKey(asset), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.decode()
}

func (s *KVState) Collaterals() ([]*CollateralConfig, error) {
	out := make([]*CollateralConfig, 0)
	err := s.db.Iterate(collateralPrefix, func(key, value []byte) error {
		var rec collateralRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}
		cfg, err := rec.decode()
		if err != nil {
			return err
		}
		out = append(out, cfg)
		return nil
	})
	return out, err
}

func (s *KVState) Position(user, asset common.Address) (*Position, error) {
	var rec positionRecord
	ok, err := s.load(positionStoreKey(user, asset), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.decode()
}

func (s *KVState) Positions(asset common.Address) ([]*Position, error) {
	prefix := positionPrefix
	if asset != (common.Address{}) {
		prefix = positionAssetPrefix(asset)
	}
	out := make([]*Position, 0)
	err := s.db.Iterate(prefix, func(key, value []byte) error {
		var rec positionRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}
		pos, err := rec.decode()
		if err != nil {
			return err
		}
		out = append(out, pos)
		return nil
	})
	return out, err
}

func (s *KVState) UserMintStatus(user common.Address) (*MintStatus, error) {
	var rec mintStatusRecord
	ok, err := s.load(userStatusKey(user), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.decode()
}

func (s *KVState) GlobalMintStatus() (*MintStatus, error) {
	var rec mintStatusRecord
	ok, err := s.load(globalStatusKey, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.decode()
}

func (s *KVState) Settings() (*Settings, error) {
	var rec settingsRecord
	ok, err := s.load(settingsKey, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.decode()
}

func encodeMintStatus(st *MintStatus) ([]byte, error) {
	return json.Marshal(mintStatusRecord{
		DailyMintCount: st.DailyMintCount,
		DailyMinted:    decString(st.DailyMinted),
		WindowStart:    st.WindowStart,
		LastMintAt:     st.LastMintAt,
	})
}

func (s *KVState) Commit(cs *Changeset) error {
	if cs == nil {
		return nil
	}
	batch := s.db.NewBatch()
	for _, cfg := range cs.Collaterals {
		raw, err := json.Marshal(collateralRecord{
			Asset:               cfg.Asset,
			Symbol:              cfg.Symbol,
			Price:               decString(cfg.Price),
			MaxLTVBps:           cfg.MaxLTVBps,
			LiquidationBonusBps: cfg.LiquidationBonusBps,
			Decimals:            cfg.Decimals,
			Enabled:             cfg.Enabled,
			LastPriceUpdate:     cfg.LastPriceUpdate,
			StaleAfter:          cfg.StaleAfter,
		})
		if err != nil {
			return err
		}
		batch.Put(collateralKey(cfg.Asset), raw)
	}
	for _, pos := range cs.Positions {
		key := positionStoreKey(pos.User, pos.Asset)
		raw, err := json.Marshal(positionRecord{
			User:             pos.User,
			Asset:            pos.Asset,
			Collateral:       decString(pos.Collateral),
			Debt:             decString(pos.Debt),
			OpenedAt:         pos.OpenedAt,
			LastMintAt:       pos.LastMintAt,
			LastAutoRewardAt: pos.LastAutoRewardAt,
		})
		if err != nil {
			return err
		}
		batch.Put(key, raw)
	}
	for user, st := range cs.UserStatus {
		raw, err := encodeMintStatus(st)
		if err != nil {
			return err
		}
		batch.Put(userStatusKey(user), raw)
	}
	if cs.GlobalStatus != nil {
		raw, err := encodeMintStatus(cs.GlobalStatus)
		if err != nil {
			return err
		}
		batch.Put(globalStatusKey, raw)
	}
	if st := cs.Settings; st != nil {
		raw, err := json.Marshal(settingsRecord{
			Paused:                st.Paused,
			AutoMintEnabled:       st.AutoMintEnabled,
			CooldownPeriod:        st.Limits.CooldownPeriod,
			MaxMintPerTx:          decString(st.Limits.MaxMintPerTx),
			MaxMintsPerUserPerDay: st.Limits.MaxMintsPerUserPerDay,
			MaxMintPerUserPerDay:  decString(st.Limits.MaxMintPerUserPerDay),
			MaxGlobalMintPerDay:   decString(st.Limits.MaxGlobalMintPerDay),
			BaseReward:            decString(st.AutoReward.BaseReward),
			BonusMultiplierBps:    st.AutoReward.BonusMultiplierBps,
			MinHoldTime:           st.AutoReward.MinHoldTime,
			MinEligibleRatioBps:   st.AutoReward.MinEligibleRatioBps,
		})
		if err != nil {
			return err
		}
		batch.Put(settingsKey, raw)
	}
	return batch.Write()
}
