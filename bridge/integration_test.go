package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	framelink "github.com/machinefabric/framelink-go"
)

// connect wires a host and a guest over an in-process pipe and waits for
// the ready handshake.
func connect(t *testing.T, handlers Handlers, guestOpts ...GuestOption) (*HostBridge, *GuestBridge) {
	t.Helper()

	hostEnd, guestEnd := NewPipe("https://cms.example.com", "https://plugin.example.com", testLogger())

	guestOpts = append(guestOpts, WithGuestLogger(testLogger()))
	guest, err := ConnectGuest(guestEnd, handlers, guestOpts...)
	require.NoError(t, err)

	host := NewHost(hostEnd, WithHostLogger(testLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, host.WaitReady(ctx))

	t.Cleanup(func() {
		host.Teardown()
		guest.Close()
	})
	return host, guest
}

func TestReadyAnnouncesSupportedHooks(t *testing.T) {
	host, _ := connect(t, Handlers{
		framelink.HookOnBoot: func(ctx context.Context, c *Context) (interface{}, error) {
			return nil, nil
		},
		framelink.HookRenderPage: func(ctx context.Context, c *Context) (interface{}, error) {
			return nil, nil
		},
		// Unknown names are accepted at registration but never announced.
		"renderDashboard": func(ctx context.Context, c *Context) (interface{}, error) {
			return nil, nil
		},
	})

	assert.True(t, host.Supports(framelink.HookOnBoot))
	assert.True(t, host.Supports(framelink.HookRenderPage))
	assert.False(t, host.Supports(framelink.HookRenderModal))
	assert.False(t, host.Supports("renderDashboard"))
}

func TestInvokeHookRoundtrip(t *testing.T) {
	host, _ := connect(t, Handlers{
		framelink.HookValidateFieldParameters: func(ctx context.Context, c *Context) (interface{}, error) {
			require.Len(t, c.Args(), 1)
			params := c.Args()[0].(map[string]interface{})
			if params["maxLength"] == nil {
				return map[string]interface{}{"errors": []interface{}{"maxLength is required"}}, nil
			}
			return map[string]interface{}{"errors": []interface{}{}}, nil
		},
	})

	result, err := host.InvokeHook(context.Background(), framelink.HookValidateFieldParameters,
		[]interface{}{map[string]interface{}{"maxLength": 80}}, nil, InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"errors": []interface{}{}}, result)

	result, err = host.InvokeHook(context.Background(), framelink.HookValidateFieldParameters,
		[]interface{}{map[string]interface{}{}}, nil, InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"maxLength is required"}, result.(map[string]interface{})["errors"])
}

func TestSnapshotCrossesByValue(t *testing.T) {
	var seenUser string
	var seenKey interface{}
	done := make(chan struct{})

	host, _ := connect(t, Handlers{
		framelink.HookOnBoot: func(ctx context.Context, c *Context) (interface{}, error) {
			defer close(done)
			snap := c.Snapshot()
			require.NotNil(t, snap)
			if snap.CurrentUser != nil {
				seenUser = snap.CurrentUser.ID
			}
			seenKey = snap.PluginParameters["apiKey"]
			// Guest-side mutation must never reach the host's snapshot.
			snap.PluginParameters["apiKey"] = "overwritten"
			return nil, nil
		},
	})

	snapshot := &framelink.ContextSnapshot{
		CurrentUser:      &framelink.User{ID: "u1", Email: "editor@example.com"},
		PluginParameters: map[string]interface{}{"apiKey": "secret"},
	}

	_, err := host.InvokeHook(context.Background(), framelink.HookOnBoot, nil, snapshot, InvokeOptions{})
	require.NoError(t, err)
	<-done

	assert.Equal(t, "u1", seenUser)
	assert.Equal(t, "secret", seenKey)
	assert.Equal(t, "secret", snapshot.PluginParameters["apiKey"], "host snapshot must stay untouched")
}

func TestInvokeUnregisteredHookShortCircuits(t *testing.T) {
	host, _ := connect(t, Handlers{
		framelink.HookOnBoot: func(ctx context.Context, c *Context) (interface{}, error) {
			return nil, nil
		},
	})

	_, err := host.InvokeHook(context.Background(), framelink.HookRenderPage, nil, nil, InvokeOptions{})
	require.Error(t, err)
	var noHandler *NoHandlerError
	require.True(t, errors.As(err, &noHandler))
	assert.Equal(t, string(framelink.HookRenderPage), noHandler.Hook)
}

func TestInvokeUnknownHookRejected(t *testing.T) {
	host, _ := connect(t, Handlers{})

	_, err := host.InvokeHook(context.Background(), "renderDashboard", nil, nil, InvokeOptions{})
	require.Error(t, err)
	assert.IsType(t, &ProtocolViolationError{}, err)
}

func TestHandlerErrorArrivesAsRemoteThrown(t *testing.T) {
	host, _ := connect(t, Handlers{
		framelink.HookOnBoot: func(ctx context.Context, c *Context) (interface{}, error) {
			return nil, errors.New("config is missing")
		},
	})

	_, err := host.InvokeHook(context.Background(), framelink.HookOnBoot, nil, nil, InvokeOptions{})
	require.Error(t, err)
	remote, ok := err.(*RemoteThrownError)
	require.True(t, ok, "expected *RemoteThrownError, got %T", err)
	assert.Equal(t, KindRemoteThrown, remote.Kind)
	assert.Contains(t, remote.Message, "config is missing")
}

func TestHandlerPanicArrivesAsRemoteThrown(t *testing.T) {
	host, _ := connect(t, Handlers{
		framelink.HookOnBoot: func(ctx context.Context, c *Context) (interface{}, error) {
			panic("handler blew up")
		},
	})

	_, err := host.InvokeHook(context.Background(), framelink.HookOnBoot, nil, nil, InvokeOptions{})
	require.Error(t, err)
	remote, ok := err.(*RemoteThrownError)
	require.True(t, ok)
	assert.Contains(t, remote.Message, "handler blew up")
}

func TestConcurrencyGuardPerHookAndTarget(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	host, _ := connect(t, Handlers{
		framelink.HookRenderFieldExtension: func(ctx context.Context, c *Context) (interface{}, error) {
			started <- struct{}{}
			<-release
			return "done:" + c.TargetID(), nil
		},
	})

	type outcome struct {
		result interface{}
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		r, err := host.InvokeHook(context.Background(), framelink.HookRenderFieldExtension,
			nil, nil, InvokeOptions{TargetID: "field-1"})
		first <- outcome{r, err}
	}()
	<-started

	// Same target while pending: rejected without reaching the handler.
	_, err := host.InvokeHook(context.Background(), framelink.HookRenderFieldExtension,
		nil, nil, InvokeOptions{TargetID: "field-1"})
	require.Error(t, err)
	concurrent, ok := err.(*ConcurrentInvocationError)
	require.True(t, ok, "expected *ConcurrentInvocationError, got %T", err)
	assert.NotEmpty(t, concurrent.Hook)

	// A different target is an independent invocation slot.
	second := make(chan outcome, 1)
	go func() {
		r, err := host.InvokeHook(context.Background(), framelink.HookRenderFieldExtension,
			nil, nil, InvokeOptions{TargetID: "field-2"})
		second <- outcome{r, err}
	}()
	<-started

	close(release)
	for _, ch := range []chan outcome{first, second} {
		out := <-ch
		require.NoError(t, out.err)
	}

	// The slot frees on settlement: the same target works again.
	go func() { <-started }()
	r, err := host.InvokeHook(context.Background(), framelink.HookRenderFieldExtension,
		nil, nil, InvokeOptions{TargetID: "field-1"})
	require.NoError(t, err)
	assert.Equal(t, "done:field-1", r)
}

func TestGuestCallsHostMethod(t *testing.T) {
	var noticed []interface{}

	handlerResult := make(chan error, 1)
	host, _ := connect(t, Handlers{
		framelink.HookOnBoot: func(ctx context.Context, c *Context) (interface{}, error) {
			result, err := c.CallMethod(ctx, "notice", "Plugin booted")
			handlerResult <- err
			return result, err
		},
	})
	host.ExposeMethod("notice", func(ctx context.Context, targetID string, args []interface{}) (interface{}, error) {
		noticed = args
		return map[string]interface{}{"shown": true}, nil
	})

	result, err := host.InvokeHook(context.Background(), framelink.HookOnBoot, nil, nil, InvokeOptions{})
	require.NoError(t, err)
	require.NoError(t, <-handlerResult)
	assert.Equal(t, map[string]interface{}{"shown": true}, result)
	assert.Equal(t, []interface{}{"Plugin booted"}, noticed)
}

func TestMethodOutsideContextShapeRejectedLocally(t *testing.T) {
	callErr := make(chan error, 1)
	host, _ := connect(t, Handlers{
		framelink.HookOnBoot: func(ctx context.Context, c *Context) (interface{}, error) {
			// saveCurrentItem is not part of onBoot's context.
			_, err := c.CallMethod(ctx, "saveCurrentItem")
			callErr <- err
			return nil, nil
		},
	})
	host.ExposeMethod("saveCurrentItem", func(ctx context.Context, targetID string, args []interface{}) (interface{}, error) {
		t.Error("method must not be reachable from this hook")
		return nil, nil
	})

	_, err := host.InvokeHook(context.Background(), framelink.HookOnBoot, nil, nil, InvokeOptions{})
	require.NoError(t, err)

	err = <-callErr
	require.Error(t, err)
	assert.IsType(t, &NoHandlerError{}, err)
}

func TestUnexposedHostMethodRejectedRemotely(t *testing.T) {
	callErr := make(chan error, 1)
	host, _ := connect(t, Handlers{
		framelink.HookOnBoot: func(ctx context.Context, c *Context) (interface{}, error) {
			// In the context shape, but the host never exposed it.
			_, err := c.CallMethod(ctx, "updatePluginParameters", map[string]interface{}{})
			callErr <- err
			return nil, nil
		},
	})

	_, err := host.InvokeHook(context.Background(), framelink.HookOnBoot, nil, nil, InvokeOptions{})
	require.NoError(t, err)

	err = <-callErr
	require.Error(t, err)
	assert.IsType(t, &NoHandlerError{}, err)
}

func TestHostMethodErrorCrossesBack(t *testing.T) {
	callErr := make(chan error, 1)
	host, _ := connect(t, Handlers{
		framelink.HookOnBoot: func(ctx context.Context, c *Context) (interface{}, error) {
			_, err := c.CallMethod(ctx, "notice", "x")
			callErr <- err
			return nil, nil
		},
	})
	host.ExposeMethod("notice", func(ctx context.Context, targetID string, args []interface{}) (interface{}, error) {
		return nil, errors.New("storage unavailable")
	})

	_, err := host.InvokeHook(context.Background(), framelink.HookOnBoot, nil, nil, InvokeOptions{})
	require.NoError(t, err)

	err = <-callErr
	require.Error(t, err)
	remote, ok := err.(*RemoteThrownError)
	require.True(t, ok)
	assert.Contains(t, remote.Message, "storage unavailable")
}

func TestMethodStubOutlivesHandlerReturn(t *testing.T) {
	modalCtx := make(chan *Context, 1)
	host, _ := connect(t, Handlers{
		framelink.HookRenderModal: func(ctx context.Context, c *Context) (interface{}, error) {
			// Call once inside the handler, once after it returns: the stub
			// must behave identically either way.
			r, err := c.CallMethod(ctx, "notice", "from handler")
			require.NoError(t, err)
			require.Equal(t, "ack", r)
			modalCtx <- c
			return nil, nil
		},
	})
	host.ExposeMethod("notice", func(ctx context.Context, targetID string, args []interface{}) (interface{}, error) {
		return "ack", nil
	})

	settled := make(chan struct{})
	go func() {
		defer close(settled)
		host.OpenModal(context.Background(),
			[]interface{}{map[string]interface{}{"id": "m1"}}, nil, InvokeOptions{})
	}()

	c := <-modalCtx
	r, err := c.CallMethod(context.Background(), "notice", "after return")
	require.NoError(t, err)
	assert.Equal(t, "ack", r)

	require.NoError(t, c.CloseModal())
	<-settled
}

func TestModalSessionLifecycle(t *testing.T) {
	modalCtx := make(chan *Context, 1)
	host, _ := connect(t, Handlers{
		framelink.HookRenderModal: func(ctx context.Context, c *Context) (interface{}, error) {
			// Mount only; settlement happens later via Resolve.
			modalCtx <- c
			return nil, nil
		},
	})

	type outcome struct {
		result interface{}
		err    error
	}
	settled := make(chan outcome, 1)
	go func() {
		r, err := host.OpenModal(context.Background(),
			[]interface{}{map[string]interface{}{"id": "confirm-delete"}}, nil,
			InvokeOptions{InitialHeight: 200})
		settled <- outcome{r, err}
	}()

	c := <-modalCtx

	// The invocation stays open after the handler returned.
	select {
	case out := <-settled:
		t.Fatalf("modal settled prematurely: %+v", out)
	case <-time.After(50 * time.Millisecond):
	}

	// The modal is adjustable: explicit height updates reach the host.
	require.NoError(t, c.UpdateHeight(240))
	require.NoError(t, c.UpdateHeight(180))
	require.NoError(t, c.UpdateHeight(300))
	require.Eventually(t, func() bool {
		sessions := host.Lifecycle().Sessions()
		return len(sessions) == 1 && sessions[0].CurrentHeight() == 300
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Resolve(map[string]interface{}{"confirmed": true}))

	out := <-settled
	require.NoError(t, out.err)
	assert.Equal(t, map[string]interface{}{"confirmed": true}, out.result)

	// Settlement closed the frame; a late height report is dropped.
	require.NoError(t, c.UpdateHeight(999))
	sessions := host.Lifecycle().Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 300, sessions[0].CurrentHeight())
	assert.True(t, sessions[0].Closed())
}

func TestModalCloseResolvesNil(t *testing.T) {
	modalCtx := make(chan *Context, 1)
	host, _ := connect(t, Handlers{
		framelink.HookRenderModal: func(ctx context.Context, c *Context) (interface{}, error) {
			modalCtx <- c
			return nil, nil
		},
	})

	result := make(chan interface{}, 1)
	go func() {
		r, _ := host.OpenModal(context.Background(),
			[]interface{}{map[string]interface{}{"id": "about"}}, nil, InvokeOptions{})
		result <- r
	}()

	c := <-modalCtx
	require.NoError(t, c.CloseModal())
	assert.Nil(t, <-result)
}

func TestResolveOnNonSessionalHookRejected(t *testing.T) {
	resolveErr := make(chan error, 1)
	host, _ := connect(t, Handlers{
		framelink.HookRenderPage: func(ctx context.Context, c *Context) (interface{}, error) {
			resolveErr <- c.Resolve("nope")
			return nil, nil
		},
	})

	_, err := host.InvokeHook(context.Background(), framelink.HookRenderPage, nil, nil, InvokeOptions{})
	require.NoError(t, err)

	err = <-resolveErr
	require.Error(t, err)
	assert.IsType(t, &ProtocolViolationError{}, err)
}

func TestSelfResizingFrameReportsContinuously(t *testing.T) {
	observer := newFakeObserver()
	started := make(chan struct{})
	release := make(chan struct{})

	host, _ := connect(t, Handlers{
		framelink.HookRenderSidebarPanel: func(ctx context.Context, c *Context) (interface{}, error) {
			if err := c.StartAutoResizer(); err != nil {
				return nil, err
			}
			close(started)
			<-release
			return nil, nil
		},
	}, WithResizeObserver(observer))

	done := make(chan error, 1)
	go func() {
		_, err := host.InvokeHook(context.Background(), framelink.HookRenderSidebarPanel,
			nil, nil, InvokeOptions{TargetID: "panel-1", InitialHeight: 100})
		done <- err
	}()
	<-started

	for _, h := range []int{240, 180, 300} {
		observer.Emit(h)
	}
	require.Eventually(t, func() bool {
		sessions := host.Lifecycle().Sessions()
		return len(sessions) == 1 && sessions[0].CurrentHeight() == 300
	}, 5*time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-done)

	// Settlement released the observer subscription.
	require.Eventually(t, func() bool {
		return observer.ActiveSubscriptions() == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestImposedFrameHasNoSizingMethods(t *testing.T) {
	sizingErr := make(chan error, 2)
	host, _ := connect(t, Handlers{
		framelink.HookRenderPage: func(ctx context.Context, c *Context) (interface{}, error) {
			sizingErr <- c.UpdateHeight(500)
			sizingErr <- c.StartAutoResizer()
			return nil, nil
		},
	})

	_, err := host.InvokeHook(context.Background(), framelink.HookRenderPage, nil, nil, InvokeOptions{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err := <-sizingErr
		require.Error(t, err)
		assert.IsType(t, &ProtocolViolationError{}, err)
	}
}

func TestTeardownCancelsPendingModal(t *testing.T) {
	modalCtx := make(chan *Context, 1)
	host, _ := connect(t, Handlers{
		framelink.HookRenderModal: func(ctx context.Context, c *Context) (interface{}, error) {
			modalCtx <- c
			return nil, nil
		},
	})

	settled := make(chan error, 1)
	go func() {
		_, err := host.OpenModal(context.Background(),
			[]interface{}{map[string]interface{}{"id": "confirm"}}, nil, InvokeOptions{})
		settled <- err
	}()
	<-modalCtx

	require.NoError(t, host.Teardown())

	err := <-settled
	require.Error(t, err)
	cancelled, ok := err.(*CancelledError)
	require.True(t, ok, "expected *CancelledError, got %T", err)
	assert.Equal(t, "frame torn down", cancelled.Reason)

	// Past teardown every invocation fails the same way.
	_, err = host.InvokeHook(context.Background(), framelink.HookRenderModal,
		[]interface{}{map[string]interface{}{"id": "again"}}, nil, InvokeOptions{})
	require.Error(t, err)
	assert.IsType(t, &CancelledError{}, err)
}

func TestGuestCloseCancelsItsPendingMethodCalls(t *testing.T) {
	callErr := make(chan error, 1)
	blocked := make(chan struct{})

	host, guest := connect(t, Handlers{
		framelink.HookOnBoot: func(ctx context.Context, c *Context) (interface{}, error) {
			go func() {
				_, err := c.CallMethod(context.Background(), "notice", "x")
				callErr <- err
			}()
			return nil, nil
		},
	})
	host.ExposeMethod("notice", func(ctx context.Context, targetID string, args []interface{}) (interface{}, error) {
		close(blocked)
		select {} // never replies
	})

	_, err := host.InvokeHook(context.Background(), framelink.HookOnBoot, nil, nil, InvokeOptions{})
	require.NoError(t, err)
	<-blocked

	require.NoError(t, guest.Close())

	err = <-callErr
	require.Error(t, err)
	assert.IsType(t, &CancelledError{}, err)
}

func TestArgValidationOption(t *testing.T) {
	hostEnd, guestEnd := NewPipe("h", "g", testLogger())
	guest, err := ConnectGuest(guestEnd, Handlers{
		framelink.HookRenderModal: func(ctx context.Context, c *Context) (interface{}, error) {
			return nil, c.CloseModal()
		},
	}, WithGuestLogger(testLogger()))
	require.NoError(t, err)

	host := NewHost(hostEnd, WithHostLogger(testLogger()), WithArgValidation())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, host.WaitReady(ctx))
	t.Cleanup(func() {
		host.Teardown()
		guest.Close()
	})

	_, err = host.InvokeHook(context.Background(), framelink.HookRenderModal,
		[]interface{}{map[string]interface{}{"title": "no id"}}, nil, InvokeOptions{})
	require.Error(t, err)
	assert.IsType(t, &ProtocolViolationError{}, err)
}
