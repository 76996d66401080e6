package nav

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"dermalyze/src/app"
)

func testImage() string {
	return app.DataURL("image/jpeg", []byte{0xFF, 0xD8})
}

func signedInMachine(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine()
	snapshot := m.SessionReady(true, false)
	assert.Equal(t, ScreenDashboard, snapshot.Screen)
	return m
}

func dispatch(t *testing.T, m *Machine, events ...Event) Snapshot {
	t.Helper()
	var snapshot Snapshot
	for _, event := range events {
		var err error
		snapshot, err = m.Dispatch(event)
		assert.NoError(t, err, "event %q", event)
	}
	return snapshot
}

func TestSessionReady(t *testing.T) {
	t.Run("NoSessionLandsOnLogin", func(t *testing.T) {
		snapshot := NewMachine().SessionReady(false, false)
		assert.Equal(t, ScreenLogin, snapshot.Screen)
		assert.False(t, snapshot.Authenticated)
	})

	t.Run("SessionLandsOnDashboard", func(t *testing.T) {
		snapshot := NewMachine().SessionReady(true, false)
		assert.Equal(t, ScreenDashboard, snapshot.Screen)
		assert.True(t, snapshot.Authenticated)
	})

	t.Run("RecoveryWinsOverDashboard", func(t *testing.T) {
		snapshot := NewMachine().SessionReady(true, true)
		assert.Equal(t, ScreenResetPassword, snapshot.Screen)
	})

	t.Run("LoadingAcceptsNothingElse", func(t *testing.T) {
		m := NewMachine()
		_, err := m.Dispatch(EventGoUpload)
		illegal := &IllegalTransitionError{}
		assert.ErrorAs(t, err, &illegal)
		assert.Equal(t, ScreenLoading, m.Snapshot().Screen)
	})
}

func TestAuthScreenFlow(t *testing.T) {
	m := NewMachine()
	m.SessionReady(false, false)

	snapshot := dispatch(t, m, EventGoSignup)
	assert.Equal(t, ScreenSignup, snapshot.Screen)
	assert.Equal(t, "signup-title", snapshot.Focus)

	snapshot = dispatch(t, m, EventSignupSuccess)
	assert.Equal(t, ScreenEmailVerification, snapshot.Screen)

	snapshot = dispatch(t, m, EventGoLogin, EventGoForgotPassword, EventGoLogin)
	assert.Equal(t, ScreenLogin, snapshot.Screen)

	snapshot = dispatch(t, m, EventLoginSuccess)
	assert.Equal(t, ScreenDashboard, snapshot.Screen)
	assert.True(t, snapshot.Authenticated)
}

func TestPasswordRecoveryFlow(t *testing.T) {
	m := signedInMachine(t)

	// Recovery applies from any screen.
	snapshot, err := m.Dispatch(EventPasswordRecovery)
	assert.NoError(t, err)
	assert.Equal(t, ScreenResetPassword, snapshot.Screen)

	snapshot = dispatch(t, m, EventResetSuccess)
	assert.Equal(t, ScreenLogin, snapshot.Screen)
	assert.False(t, snapshot.Authenticated, "reset completes signed out")
}

func TestClassificationFlow(t *testing.T) {
	t.Run("FullRun", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoUpload)
		assert.NoError(t, m.SelectImage(testImage()))

		dataURL, epoch, ok, err := m.StartClassification()
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, testImage(), dataURL)
		assert.Equal(t, ScreenProcessing, m.Snapshot().Screen)

		results := []app.ClassResult{{ID: "mel", Name: "Melanoma", Score: 67.4}}
		snapshot, applied := m.CompleteClassification(epoch, results, nil)
		assert.True(t, applied)
		assert.Equal(t, ScreenResults, snapshot.Screen)
		assert.Equal(t, results, snapshot.Results)
	})

	t.Run("NoImageRoutesToErrorScreen", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoUpload)

		_, _, ok, err := m.StartClassification()
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrNoImageProvided)

		snapshot := m.Snapshot()
		assert.Equal(t, ScreenError, snapshot.Screen, "must land on the error screen, not hang on a spinner")
		assert.Equal(t, "no image provided", snapshot.ErrorMessage)
	})

	t.Run("DuplicateStartIsNoOp", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoUpload)
		assert.NoError(t, m.SelectImage(testImage()))

		_, epoch, ok, err := m.StartClassification()
		assert.NoError(t, err)
		assert.True(t, ok)

		_, _, ok, err = m.StartClassification()
		assert.NoError(t, err)
		assert.False(t, ok, "second start while in flight must not fire another call")

		// The original flight still completes.
		_, applied := m.CompleteClassification(epoch, []app.ClassResult{{ID: "nv", Score: 99}}, nil)
		assert.True(t, applied)
	})

	t.Run("FailureLandsOnErrorScreen", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoUpload)
		assert.NoError(t, m.SelectImage(testImage()))

		_, epoch, ok, _ := m.StartClassification()
		assert.True(t, ok)

		snapshot, applied := m.CompleteClassification(epoch, nil, errors.New("The analysis service is unreachable. Please try again."))
		assert.True(t, applied)
		assert.Equal(t, ScreenError, snapshot.Screen)
		assert.Equal(t, "The analysis service is unreachable. Please try again.", snapshot.ErrorMessage)
	})

	t.Run("OrphanedResultIsDiscarded", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoUpload)
		assert.NoError(t, m.SelectImage(testImage()))

		_, epoch, ok, _ := m.StartClassification()
		assert.True(t, ok)

		// User signs out while the flight is running.
		dispatch(t, m, EventSignedOut)

		snapshot, applied := m.CompleteClassification(epoch, []app.ClassResult{{ID: "mel", Score: 99}}, nil)
		assert.False(t, applied, "a result finishing after sign-out must be dropped")
		assert.Equal(t, ScreenLogin, snapshot.Screen)
		assert.Empty(t, snapshot.Results)
	})

	t.Run("LeavingProcessingOrphansFlight", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoUpload)
		assert.NoError(t, m.SelectImage(testImage()))

		_, epoch, ok, _ := m.StartClassification()
		assert.True(t, ok)

		dispatch(t, m, EventRequestLogout, EventCancelLogout)

		_, applied := m.CompleteClassification(epoch, []app.ClassResult{{ID: "mel", Score: 99}}, nil)
		assert.False(t, applied)
	})

	t.Run("AnalyzeAnotherClearsState", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoUpload)
		assert.NoError(t, m.SelectImage(testImage()))
		_, epoch, _, _ := m.StartClassification()
		m.CompleteClassification(epoch, []app.ClassResult{{ID: "nv", Score: 88}}, nil)

		snapshot := dispatch(t, m, EventAnalyzeAnother)
		assert.Equal(t, ScreenUpload, snapshot.Screen)
		assert.Empty(t, snapshot.SelectedImage)
		assert.Empty(t, snapshot.Results)
	})
}

func TestSelectImage(t *testing.T) {
	t.Run("OnlyOnUploadScreen", func(t *testing.T) {
		m := signedInMachine(t)
		err := m.SelectImage(testImage())
		illegal := &IllegalTransitionError{}
		assert.ErrorAs(t, err, &illegal)
	})

	t.Run("ClearImage", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoUpload)
		assert.NoError(t, m.SelectImage(testImage()))
		m.ClearImage()
		assert.Empty(t, m.Snapshot().SelectedImage)
	})
}

func TestHistoryFlow(t *testing.T) {
	item := &app.AnalysisHistoryItem{ID: "rec-1", ClassID: "nv", ClassName: "Melanocytic nevi"}

	t.Run("DetailRequiresSelection", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoHistory)

		_, err := m.Dispatch(EventViewDetail)
		illegal := &IllegalTransitionError{}
		assert.ErrorAs(t, err, &illegal, "detail without a selection renders nothing")
	})

	t.Run("SelectAndView", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoHistory)

		snapshot, err := m.SelectHistoryItem(item)
		assert.NoError(t, err)
		assert.Equal(t, ScreenHistoryDetail, snapshot.Screen)
		assert.Equal(t, item, snapshot.SelectedHistory)
	})

	t.Run("BackClearsSelection", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoHistory)
		_, err := m.SelectHistoryItem(item)
		assert.NoError(t, err)

		snapshot := dispatch(t, m, EventBackToHistory)
		assert.Equal(t, ScreenHistory, snapshot.Screen)
		assert.Nil(t, snapshot.SelectedHistory)

		_, err = m.Dispatch(EventViewDetail)
		assert.Error(t, err, "the cleared selection must not be reusable")
	})

	t.Run("SelectionHiddenOutsideDetail", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoHistory)
		_, err := m.SelectHistoryItem(item)
		assert.NoError(t, err)

		snapshot := dispatch(t, m, EventRequestLogout)
		assert.Nil(t, snapshot.SelectedHistory)
	})
}

func TestLogoutConfirm(t *testing.T) {
	t.Run("CancelReturnsToOrigin", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoHistory, EventRequestLogout)
		assert.Equal(t, ScreenLogoutConfirm, m.Snapshot().Screen)

		snapshot := dispatch(t, m, EventCancelLogout)
		assert.Equal(t, ScreenHistory, snapshot.Screen, "cancel returns to where logout was requested")
	})

	t.Run("CancelDefaultsToDashboard", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventRequestLogout)
		snapshot := dispatch(t, m, EventCancelLogout)
		assert.Equal(t, ScreenDashboard, snapshot.Screen)
	})

	t.Run("ConfirmClearsEverything", func(t *testing.T) {
		m := signedInMachine(t)
		dispatch(t, m, EventGoUpload)
		assert.NoError(t, m.SelectImage(testImage()))

		snapshot := dispatch(t, m, EventRequestLogout, EventConfirmLogout)
		assert.Equal(t, ScreenLogin, snapshot.Screen)
		assert.False(t, snapshot.Authenticated)
		assert.Empty(t, snapshot.SelectedImage)
		assert.Empty(t, snapshot.Results)
	})
}

func TestSignedOutFromAnywhere(t *testing.T) {
	for _, start := range []struct {
		name  string
		setup func(t *testing.T) *Machine
	}{
		{"Dashboard", signedInMachine},
		{"Upload", func(t *testing.T) *Machine {
			m := signedInMachine(t)
			dispatch(t, m, EventGoUpload)
			return m
		}},
		{"History", func(t *testing.T) *Machine {
			m := signedInMachine(t)
			dispatch(t, m, EventGoHistory)
			return m
		}},
		{"Loading", func(t *testing.T) *Machine { return NewMachine() }},
	} {
		t.Run(start.name, func(t *testing.T) {
			m := start.setup(t)
			snapshot, err := m.Dispatch(EventSignedOut)
			assert.NoError(t, err)
			assert.Equal(t, ScreenLogin, snapshot.Screen)
			assert.False(t, snapshot.Authenticated)
		})
	}
}

func TestIllegalTransitions(t *testing.T) {
	m := signedInMachine(t)

	_, err := m.Dispatch(EventComplete)
	illegal := &IllegalTransitionError{}
	assert.ErrorAs(t, err, &illegal)
	assert.Equal(t, ScreenDashboard, illegal.From)
	assert.Equal(t, ScreenDashboard, m.Snapshot().Screen, "rejected events leave the state untouched")
}

func TestRequiresAuth(t *testing.T) {
	assert.False(t, RequiresAuth(ScreenLoading))
	assert.False(t, RequiresAuth(ScreenLogin))
	assert.False(t, RequiresAuth(ScreenResetPassword))
	assert.True(t, RequiresAuth(ScreenDashboard))
	assert.True(t, RequiresAuth(ScreenProcessing))
	assert.True(t, RequiresAuth(ScreenLogoutConfirm))
}
