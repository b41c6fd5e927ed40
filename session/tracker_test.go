package session_test

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-quicktest/qt"

	"github.com/dockreef/registry/session"
)

func TestCreateAndTouch(t *testing.T) {
	c := clock.NewMock()
	tr := session.NewWithClock(c)

	id := tr.Create()
	qt.Assert(t, qt.Not(qt.Equals(id, "")))
	qt.Assert(t, qt.Equals(tr.Len(), 1))

	c.Add(25 * time.Hour)
	stale := tr.Stale(24 * time.Hour)
	qt.Assert(t, qt.DeepEquals(stale, []string{id}))

	tr.Touch(id)
	stale = tr.Stale(24 * time.Hour)
	qt.Assert(t, qt.HasLen(stale, 0))
}

func TestForget(t *testing.T) {
	c := clock.NewMock()
	tr := session.NewWithClock(c)
	id := tr.Create()
	tr.Forget(id)
	qt.Assert(t, qt.Equals(tr.Len(), 0))
}
