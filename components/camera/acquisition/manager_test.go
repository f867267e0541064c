package acquisition

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camacq/logging"
)

type closingDriver struct {
	*scriptedDriver
	closeErr error
	closed   bool
}

func (d *closingDriver) Close(context.Context) error {
	d.closed = true
	return d.closeErr
}

func TestManager(t *testing.T) {
	m := NewManager(logging.NewTestLogger(t))
	conf := Config{Width: 4, Height: 2}

	camB, err := m.Open("b", newScriptedDriver(), conf)
	test.That(t, err, test.ShouldBeNil)
	_, err = m.Open("a", newScriptedDriver(), conf)
	test.That(t, err, test.ShouldBeNil)
	_, err = m.Open("b", newScriptedDriver(), conf)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "already open")
	_, err = m.Open("c", newScriptedDriver(), Config{})
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, m.IDs(), test.ShouldResemble, []string{"a", "b"})
	got, ok := m.Get("b")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, camB)
	_, ok = m.Get("c")
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, camB.Start(context.Background()), test.ShouldBeNil)
	test.That(t, m.CloseCamera(context.Background(), "b"), test.ShouldBeNil)
	test.That(t, camB.State(), test.ShouldEqual, StateStopped)
	test.That(t, m.IDs(), test.ShouldResemble, []string{"a"})
	test.That(t, m.CloseCamera(context.Background(), "b"), test.ShouldNotBeNil)
}

func TestManagerCloseAggregatesErrors(t *testing.T) {
	m := NewManager(logging.NewTestLogger(t))
	conf := Config{Width: 4, Height: 2}

	drivers := map[string]*closingDriver{
		"left":  {scriptedDriver: newScriptedDriver(), closeErr: errors.New("left bus fault")},
		"right": {scriptedDriver: newScriptedDriver(), closeErr: errors.New("right bus fault")},
		"ok":    {scriptedDriver: newScriptedDriver()},
	}
	for id, driver := range drivers {
		cam, err := m.Open(id, driver, conf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cam.Start(context.Background()), test.ShouldBeNil)
	}

	err := m.Close(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "left bus fault")
	test.That(t, err.Error(), test.ShouldContainSubstring, "right bus fault")
	for _, driver := range drivers {
		test.That(t, driver.closed, test.ShouldBeTrue)
		test.That(t, driver.stops.Load(), test.ShouldEqual, int32(1))
	}
	test.That(t, m.IDs(), test.ShouldBeEmpty)
}
