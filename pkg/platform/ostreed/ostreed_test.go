package ostreed

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"
	"gotest.tools/assert"

	"github.com/shepherd-os/shepherd/pkg/graph"
	"github.com/shepherd-os/shepherd/pkg/internal/testoutput"
	"github.com/shepherd-os/shepherd/pkg/logging"
	"github.com/shepherd-os/shepherd/pkg/platform"
)

type fakeObject struct {
	methods []string
	reply   map[string]*dbus.Call
}

func (f *fakeObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, _ ...interface{}) *dbus.Call {
	f.methods = append(f.methods, method)
	if call, ok := f.reply[method]; ok {
		return call
	}
	return &dbus.Call{}
}

func testPlatform(t *testing.T, obj caller) *Platform {
	return &Platform{
		log: testoutput.Logger(t, logging.New("ostreed")),
		obj: obj,
	}
}

func candidate(version string) graph.Candidate {
	return graph.Candidate{Release: graph.Release{Version: version}}
}

func TestStatus(t *testing.T) {
	obj := &fakeObject{reply: map[string]*dbus.Call{
		iface + ".GetStatus": {Body: []interface{}{"30.1", "30.2", true}},
	}}
	p := testPlatform(t, obj)

	status, err := p.Status(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, status.BootedVersion, "30.1")
	assert.Equal(t, status.StagedVersion, "30.2")
	assert.Check(t, status.RebootQueued)
	assert.Check(t, status.OK())
}

func TestStatusMalformedReply(t *testing.T) {
	obj := &fakeObject{reply: map[string]*dbus.Call{
		iface + ".GetStatus": {Body: []interface{}{42}},
	}}
	p := testPlatform(t, obj)

	_, err := p.Status(context.Background())
	assert.Check(t, err != nil)
}

func TestStageAndFinalizePassVersion(t *testing.T) {
	obj := &fakeObject{}
	p := testPlatform(t, obj)

	assert.NilError(t, p.Stage(context.Background(), candidate("30.2")))
	assert.NilError(t, p.Finalize(context.Background(), candidate("30.2")))
	assert.DeepEqual(t, obj.methods, []string{
		iface + ".StageDeployment",
		iface + ".FinalizeDeployment",
	})
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name  string
		check func(error) bool
	}{
		{errNameBusy, platform.IsBusy},
		{errNameConflict, platform.IsConflict},
		{errNameFatal, platform.IsFatal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj := &fakeObject{reply: map[string]*dbus.Call{
				iface + ".StageDeployment": {Err: dbus.Error{Name: tc.name}},
			}}
			p := testPlatform(t, obj)

			err := p.Stage(context.Background(), candidate("30.2"))
			assert.Check(t, err != nil)
			assert.Check(t, tc.check(err))
		})
	}
}

func TestUnknownErrorStaysTransient(t *testing.T) {
	obj := &fakeObject{reply: map[string]*dbus.Call{
		iface + ".StageDeployment": {Err: dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}},
	}}
	p := testPlatform(t, obj)

	err := p.Stage(context.Background(), candidate("30.2"))
	assert.Check(t, err != nil)
	assert.Check(t, !platform.IsBusy(err))
	assert.Check(t, !platform.IsConflict(err))
	assert.Check(t, !platform.IsFatal(err))
}

func TestPing(t *testing.T) {
	healthy := &fakeObject{reply: map[string]*dbus.Call{
		iface + ".GetStatus": {Body: []interface{}{"30.1", "", false}},
	}}
	assert.NilError(t, platform.Ping(context.Background(), testPlatform(t, healthy)))

	unbooted := &fakeObject{reply: map[string]*dbus.Call{
		iface + ".GetStatus": {Body: []interface{}{"", "", false}},
	}}
	assert.Check(t, platform.Ping(context.Background(), testPlatform(t, unbooted)) != nil)
}
