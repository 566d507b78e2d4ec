package delta

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/signalsfoundry/warmsync/internal/snapshot"
	"github.com/signalsfoundry/warmsync/model"
)

func basePort(enabled bool) model.PortRecord {
	return model.PortRecord{
		Identity: model.PortIdentity{Speed: model.Speed10G, FEC: model.FECNone},
		Admin:    model.AdminConfig{Enabled: enabled, RxMTU: 1500, TxMTU: 1500},
		Serdes: model.SerdesConfig{
			LaneCount: 1,
			Lanes:     []model.LaneConfig{{LaneMap: 0x3210}},
		},
	}
}

func snap(records map[model.PortKey]model.PortRecord) snapshot.Snapshot {
	return snapshot.New(records)
}

func single(t *testing.T, observed, desired *model.PortRecord) PortActions {
	t.Helper()
	obs := map[model.PortKey]model.PortRecord{}
	des := map[model.PortKey]model.PortRecord{}
	if observed != nil {
		obs[1] = *observed
	}
	if desired != nil {
		des[1] = *desired
	}
	res := Compute(snap(obs), snap(des))
	got, ok := res[1]
	if !ok {
		t.Fatalf("port 1 missing from result %v", res)
	}
	if len(res) != 1 {
		t.Fatalf("result has %d entries, want 1", len(res))
	}
	return got
}

func want(mac, serdes model.CorrectiveAction) PortActions {
	return PortActions{MAC: mac, Serdes: serdes}
}

func TestComputeScenarios(t *testing.T) {
	unchanged := basePort(true)

	speedChanged := basePort(true)
	speedChanged.Identity.Speed = model.Speed25G

	mtuChanged := basePort(true)
	mtuChanged.Admin.RxMTU = 9216
	mtuChanged.Admin.TxMTU = 9216

	laneMapChanged := basePort(true)
	laneMapChanged.Serdes.Lanes[0].LaneMap = 0x0123

	newPort := basePort(true)

	cases := []struct {
		name     string
		observed *model.PortRecord
		desired  *model.PortRecord
		want     PortActions
	}{
		{"identical and enabled", ptr(basePort(true)), &unchanged, want(model.ActionNone, model.ActionNone)},
		{"omitted from replay", ptr(basePort(true)), nil, want(model.ActionDelete, model.ActionNone)},
		{"new enabled port", nil, &newPort, want(model.ActionAddThenEnable, model.ActionNone)},
		{"speed 10G to 25G", ptr(basePort(true)), &speedChanged, want(model.ActionDeleteThenAddThenEnable, model.ActionNone)},
		{"only mtu changed", ptr(basePort(true)), &mtuChanged, want(model.ActionFlap, model.ActionFlap)},
		{"only lane map changed", ptr(basePort(true)), &laneMapChanged, want(model.ActionNone, model.ActionFlap)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := single(t, tc.observed, tc.desired); got != tc.want {
				t.Fatalf("Compute = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestComputeRules(t *testing.T) {
	disabled := basePort(false)

	fecChangedDisabled := basePort(false)
	fecChangedDisabled.Identity.FEC = model.FECRS528

	identityAndSerdes := basePort(true)
	identityAndSerdes.Identity.Speed = model.Speed25G
	identityAndSerdes.Serdes.Lanes[0].RxInversion = true

	identityMTUEnable := basePort(false)
	identityMTUEnable.Identity.FEC = model.FECRS544
	identityMTUEnable.Admin.TxMTU = 9000

	mtuAndEnable := basePort(false)
	mtuAndEnable.Admin.TxMTU = 9000

	onlyTxMTU := basePort(true)
	onlyTxMTU.Admin.TxMTU = 9000

	autonegOnly := basePort(true)
	autonegOnly.Admin.Autoneg = model.AutonegOn

	labelsOnly := basePort(true)
	labelsOnly.Labels = map[string]string{"description": "to-spine"}

	disableAndSerdes := basePort(false)
	disableAndSerdes.Serdes.Lanes[0].TxInversion = true

	laneCount := basePort(true)
	laneCount.Serdes.LaneCount = 4

	newDisabled := basePort(false)

	zeroLanes := basePort(true)
	zeroLanes.Serdes = model.SerdesConfig{}

	cases := []struct {
		name     string
		observed *model.PortRecord
		desired  *model.PortRecord
		want     PortActions
	}{
		{"new disabled port", nil, &newDisabled, want(model.ActionAdd, model.ActionNone)},
		{"disable", ptr(basePort(true)), &disabled, want(model.ActionDisable, model.ActionNone)},
		{"enable", ptr(basePort(false)), ptr(basePort(true)), want(model.ActionEnable, model.ActionNone)},
		{"fec change while disabled", ptr(basePort(true)), &fecChangedDisabled, want(model.ActionDeleteThenAdd, model.ActionNone)},
		{"identity change keeps serdes mismatch", ptr(basePort(true)), &identityAndSerdes, want(model.ActionDeleteThenAddThenEnable, model.ActionFlap)},
		{"identity dominates mtu and enable", ptr(basePort(true)), &identityMTUEnable, want(model.ActionDeleteThenAdd, model.ActionNone)},
		{"mtu dominates enable", ptr(basePort(true)), &mtuAndEnable, want(model.ActionFlap, model.ActionFlap)},
		{"tx mtu alone flaps", ptr(basePort(true)), &onlyTxMTU, want(model.ActionFlap, model.ActionFlap)},
		{"autoneg is not reconciled", ptr(basePort(true)), &autonegOnly, want(model.ActionNone, model.ActionNone)},
		{"labels are ignored", ptr(basePort(true)), &labelsOnly, want(model.ActionNone, model.ActionNone)},
		{"disable with inversion mismatch", ptr(basePort(true)), &disableAndSerdes, want(model.ActionDisable, model.ActionFlap)},
		{"lane count mismatch", ptr(basePort(true)), &laneCount, want(model.ActionNone, model.ActionFlap)},
		{"removed disabled port", ptr(basePort(false)), nil, want(model.ActionDelete, model.ActionNone)},
		{"inconsistent record taken as given", &zeroLanes, &zeroLanes, want(model.ActionNone, model.ActionNone)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := single(t, tc.observed, tc.desired); got != tc.want {
				t.Fatalf("Compute = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDecideBothAbsent(t *testing.T) {
	if _, ok := Decide(nil, nil); ok {
		t.Fatalf("Decide(nil, nil) should not emit an action")
	}
}

func TestComputeEmptyInputs(t *testing.T) {
	res := Compute(snapshot.Empty(), snapshot.Empty())
	if len(res) != 0 {
		t.Fatalf("Compute on empty snapshots = %v", res)
	}
	if !res.Converged() {
		t.Fatalf("empty result should be converged")
	}
}

// randomPort draws from a deliberately small value space so that equal
// and unequal attributes both show up often.
func randomPort(r *rand.Rand) model.PortRecord {
	speeds := []model.Speed{model.Speed10G, model.Speed25G}
	lanes := 1 + r.Intn(2)
	rec := model.PortRecord{
		Identity: model.PortIdentity{Speed: speeds[r.Intn(len(speeds))], FEC: model.FECType(r.Intn(2))},
		Admin: model.AdminConfig{
			Enabled: r.Intn(2) == 0,
			RxMTU:   []uint32{1500, 9216}[r.Intn(2)],
			TxMTU:   []uint32{1500, 9216}[r.Intn(2)],
		},
		Serdes: model.SerdesConfig{LaneCount: lanes},
	}
	for i := 0; i < lanes; i++ {
		rec.Serdes.Lanes = append(rec.Serdes.Lanes, model.LaneConfig{
			TxInversion: r.Intn(2) == 0,
			RxInversion: r.Intn(2) == 0,
			LaneMap:     uint32(r.Intn(2)),
		})
	}
	return rec
}

func randomSnapshots(seed int64) (map[model.PortKey]model.PortRecord, map[model.PortKey]model.PortRecord) {
	r := rand.New(rand.NewSource(seed))
	obs := map[model.PortKey]model.PortRecord{}
	des := map[model.PortKey]model.PortRecord{}
	for k := model.PortKey(0); k < 64; k++ {
		switch r.Intn(4) {
		case 0:
			obs[k] = randomPort(r)
		case 1:
			des[k] = randomPort(r)
		case 2:
			obs[k] = randomPort(r)
			des[k] = randomPort(r)
		}
	}
	return obs, des
}

func TestComputeProperties(t *testing.T) {
	for seed := int64(1); seed <= 50; seed++ {
		obsMap, desMap := randomSnapshots(seed)
		observed, desired := snap(obsMap), snap(desMap)
		res := Compute(observed, desired)

		// Totality: exactly the union of keys.
		union := snapshot.Union(observed, desired)
		if len(res) != len(union) {
			t.Fatalf("seed %d: %d results for %d keys", seed, len(res), len(union))
		}
		for _, k := range union {
			if _, ok := res[k]; !ok {
				t.Fatalf("seed %d: key %d missing", seed, k)
			}
		}

		// Determinism.
		if again := Compute(observed, desired); !reflect.DeepEqual(res, again) {
			t.Fatalf("seed %d: Compute not deterministic", seed)
		}

		for k, a := range res {
			if !a.MAC.Valid() || !a.Serdes.Valid() {
				t.Fatalf("seed %d: invalid action for %d: %+v", seed, k, a)
			}
			// Cascade.
			if a.MAC == model.ActionFlap && a.Serdes != model.ActionFlap {
				t.Fatalf("seed %d: port %d flaps MAC without serdes", seed, k)
			}
			// Serdes is only ever None or Flap.
			if a.Serdes != model.ActionNone && a.Serdes != model.ActionFlap {
				t.Fatalf("seed %d: port %d serdes action %v", seed, k, a.Serdes)
			}

			o, oOK := obsMap[k]
			d, dOK := desMap[k]
			if oOK && dOK && o.Identity != d.Identity {
				// Precedence: identity always recreates.
				if a.MAC != model.ActionDeleteThenAdd && a.MAC != model.ActionDeleteThenAddThenEnable {
					t.Fatalf("seed %d: identity change on %d gave %v", seed, k, a.MAC)
				}
				if wantSerdes := !o.Serdes.Equal(d.Serdes); wantSerdes != (a.Serdes == model.ActionFlap) {
					t.Fatalf("seed %d: recreation changed serdes verdict on %d", seed, k)
				}
			}
		}

		// Convergence: once observed equals desired nothing is left to do.
		converged := Compute(desired, desired)
		if len(converged) != desired.Len() {
			t.Fatalf("seed %d: converged result has %d keys, want %d", seed, len(converged), desired.Len())
		}
		if !converged.Converged() {
			t.Fatalf("seed %d: compute(desired, desired) not all None: %v", seed, converged)
		}
	}
}

func TestComputeIgnoresReplayOrder(t *testing.T) {
	obsMap, desMap := randomSnapshots(7)
	observed := snap(obsMap)

	forward := snapshot.NewStore(observed)
	backward := snapshot.NewStore(observed)
	keys := snap(desMap).Keys()
	for _, k := range keys {
		// An interim value that the final upsert replaces.
		_ = forward.Upsert(k, basePort(false))
		_ = forward.Upsert(k, desMap[k])
	}
	for i := len(keys) - 1; i >= 0; i-- {
		_ = backward.Upsert(keys[i], desMap[keys[i]])
	}
	_ = forward.Upsert(1000, basePort(true))
	_ = forward.Remove(1000)

	a := Compute(observed, forward.Freeze())
	b := Compute(observed, backward.Freeze())
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("replay order changed the result")
	}
}

func TestResultHelpers(t *testing.T) {
	res := Result{
		5: want(model.ActionFlap, model.ActionFlap),
		2: want(model.ActionNone, model.ActionNone),
		9: want(model.ActionDelete, model.ActionNone),
	}
	plan := res.Actions()
	if len(plan) != 3 || plan[0].Port != 2 || plan[1].Port != 5 || plan[2].Port != 9 {
		t.Fatalf("Actions() order = %+v", plan)
	}
	if res.Converged() {
		t.Fatalf("result with a flap is not converged")
	}

	sum := res.Summary()
	if sum.Ports != 3 || sum.Unchanged != 1 || sum.Disruptive() != 2 {
		t.Fatalf("Summary = %+v", sum)
	}
	if sum.MAC[model.ActionFlap] != 1 || sum.Serdes[model.ActionFlap] != 1 || sum.Serdes[model.ActionNone] != 2 {
		t.Fatalf("Summary counts = %+v", sum)
	}
}

func ptr(r model.PortRecord) *model.PortRecord { return &r }
