package escrow_test

import (
	"math/big"
	"testing"

	"escrowledger/core/state"
	"escrowledger/native/access"
	"escrowledger/native/escrow"
	"escrowledger/storage"
)

func TestInitializeOnce(t *testing.T) {
	f := newFixture(t)
	requireErr(t, f.engine.Initialize(f.admin, escrow.DefaultPolicy()), escrow.ErrAlreadyInitialized)
	policy, err := f.engine.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if policy.FeeBps != escrow.DefaultFeeBps || policy.StakeBps != escrow.DefaultStakeBps {
		t.Fatalf("unexpected defaults: %+v", policy)
	}
}

func TestUninitializedEngineRejectsJobs(t *testing.T) {
	engine := escrow.NewEngine()
	engine.SetState(state.NewManager(storage.NewMemDB()))
	_, err := engine.CreateJob(addr(1), escrow.JobSpec{Asset: "NATIVE", Amount: big.NewInt(1), Reference: "r"})
	requireErr(t, err, escrow.ErrNotInitialized)
	requireErr(t, engine.Initialize([20]byte{}, escrow.DefaultPolicy()), escrow.ErrInvalidAddress)
	bad := escrow.DefaultPolicy()
	bad.FeeBps = 1_001
	requireErr(t, engine.Initialize(addr(1), bad), escrow.ErrInvalidAmount)
}

func TestRoleManagement(t *testing.T) {
	f := newFixture(t)
	manager := addr(60)
	requireErr(t, f.engine.GrantRole(f.client, access.RoleManager, manager), escrow.ErrNotAuthorized)
	if err := f.engine.GrantRole(f.admin, access.RoleManager, manager); err != nil {
		t.Fatalf("grant: %v", err)
	}
	ok, err := f.engine.HasRole(access.RoleManager, manager)
	if err != nil || !ok {
		t.Fatalf("manager role missing: %v %v", ok, err)
	}
	if err := f.engine.SetPlatformFee(manager, 300); err != nil {
		t.Fatalf("manager may configure: %v", err)
	}
	requireErr(t, f.engine.SetExternalArbitration(manager, true), escrow.ErrNotAuthorized)
	requireErr(t, f.engine.Pause(manager), escrow.ErrNotAuthorized)

	requireErr(t, f.engine.RevokeRole(f.admin, access.RoleAdministrator, f.admin), escrow.ErrLastAdministrator)
	if err := f.engine.RevokeRole(f.admin, access.RoleManager, manager); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	requireErr(t, f.engine.SetPlatformFee(manager, 300), escrow.ErrNotAuthorized)
	ok, err = f.engine.HasRole(access.RoleManager, f.admin)
	if err != nil || !ok {
		t.Fatalf("administrator satisfies every role: %v %v", ok, err)
	}
}

func TestConfigurationBounds(t *testing.T) {
	f := newFixture(t)
	requireErr(t, f.engine.SetPlatformFee(f.admin, 1_001), escrow.ErrInvalidAmount)
	requireErr(t, f.engine.SetStakeBps(f.admin, 499), escrow.ErrInvalidAmount)
	requireErr(t, f.engine.SetStakeBps(f.admin, 1_001), escrow.ErrInvalidAmount)
	requireErr(t, f.engine.SetVault(f.admin, [20]byte{}), escrow.ErrInvalidAddress)
	if err := f.engine.SetStakeBps(f.admin, 1_000); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := f.engine.SetAssetWhitelisted(f.admin, "eurc", true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if err := f.engine.SetAssetWhitelisted(f.admin, "NATIVE", false); err != nil {
		t.Fatalf("native toggle: %v", err)
	}
	policy, err := f.engine.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if !policy.IsWhitelisted("EURC") || !policy.IsWhitelisted("native") || policy.StakeBps != 1_000 {
		t.Fatalf("unexpected policy: %+v", policy)
	}

	applicant := addr(70)
	f.fund(applicant, "NATIVE", 1_000)
	id := f.createJob([20]byte{}, 1_000)
	if err := f.engine.ApplyForJob(applicant, id); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := f.wallet(applicant); got != 900 {
		t.Fatalf("stake should be 10%%, wallet = %d", got)
	}

	if err := f.engine.SetAssetWhitelisted(f.admin, "USDC", false); err != nil {
		t.Fatalf("delist: %v", err)
	}
	_, err = f.engine.CreateJob(f.client, escrow.JobSpec{Asset: "USDC", Amount: big.NewInt(1), Reference: "r"})
	requireErr(t, err, escrow.ErrInvalidAmount)
}

func TestConfigChangeDoesNotRewriteCredits(t *testing.T) {
	f := newFixture(t)
	first := f.ongoingJob(1_000)
	if err := f.engine.ReleaseFunds(f.client, first); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := f.engine.SetPlatformFee(f.admin, 1_000); err != nil {
		t.Fatalf("fee: %v", err)
	}
	if got := f.balance(f.vault); got != 25 {
		t.Fatalf("existing credit changed: vault = %d", got)
	}
	second := f.ongoingJob(1_000)
	if err := f.engine.ReleaseFunds(f.client, second); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := f.balance(f.vault); got != 25+100 {
		t.Fatalf("new fee not applied: vault = %d", got)
	}
}

func TestAdminEventsAreEmitted(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Pause(f.admin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.engine.Pause(f.admin); err != nil {
		t.Fatalf("repeat pause: %v", err)
	}
	if err := f.engine.SetVault(f.admin, addr(5)); err != nil {
		t.Fatalf("vault: %v", err)
	}
	types := f.rec.Types()
	want := []string{escrow.EventTypePaused, escrow.EventTypeConfigUpdated}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
}
