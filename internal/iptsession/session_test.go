package iptsession

import (
	"net"
	"testing"
	"time"

	"github.com/segw-project/segw/internal/iptframe"
	"github.com/segw-project/segw/internal/scramble"
	"github.com/stretchr/testify/require"
)

func pipeSessions() (*Session, *Session) {
	a, b := net.Pipe()
	return New(a, 0), New(b, 0)
}

// S1: public login accept.
func TestPublicLoginAccept(t *testing.T) {
	client, master := pipeSessions()
	defer client.Close()
	defer master.Close()

	done := make(chan LoginRequest, 1)
	go func() {
		f, err := master.readFrame()
		require.NoError(t, err)
		req, err := master.ServeLogin(f, func(req LoginRequest) (bool, time.Duration, string) {
			return req.User == "LSMTest5" && req.Password == "LSMTest5", 12 * time.Minute, ""
		})
		require.NoError(t, err)
		done <- req
	}()

	resp, err := client.ClientLoginPublic("LSMTest5", "LSMTest5")
	require.NoError(t, err)
	require.Equal(t, LoginOK, resp.Code)
	require.Equal(t, 12*time.Minute, resp.Watchdog)
	require.Equal(t, "", resp.Redirect)
	require.Equal(t, StateAuthorized, client.State())

	req := <-done
	require.Equal(t, "LSMTest5", req.User)
	require.Equal(t, StateAuthorized, master.State())
}

// S2: scrambled login with key rotation; subsequent watchdog exchange
// scrambled with the negotiated key on both directions.
func TestScrambledLoginRotatesKeyThenWatchdog(t *testing.T) {
	client, master := pipeSessions()
	defer client.Close()
	defer master.Close()

	var key scramble.Key
	for i := range key {
		key[i] = byte(i + 1)
	}

	masterDone := make(chan error, 1)
	go func() {
		f, err := master.readFrame()
		if err != nil {
			masterDone <- err
			return
		}
		if _, err := master.ServeLogin(f, func(req LoginRequest) (bool, time.Duration, string) {
			return true, 5 * time.Minute, ""
		}); err != nil {
			masterDone <- err
			return
		}
		masterDone <- nil
	}()

	resp, err := client.ClientLoginScrambled("a", "b", key)
	require.NoError(t, err)
	require.Equal(t, LoginOK, resp.Code)
	require.NoError(t, <-masterDone)

	// Both sides now hold the negotiated key on both directions.
	clientDone := make(chan error, 1)
	go func() {
		clientDone <- master.SendWatchdogAndAwait(time.Second)
	}()

	f, err := client.readFrame()
	require.NoError(t, err)
	require.Equal(t, iptframe.CtrlReqWatchdog, f.Command)
	require.NoError(t, client.HandleWatchdogRequest(f))
	require.NoError(t, <-clientDone)
}

func TestUnknownCommandGetsUnknownResponse(t *testing.T) {
	client, master := pipeSessions()
	defer client.Close()
	defer master.Close()

	go func() {
		_, _ = master.send(0x1234, []byte{0x99})
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(func(f iptframe.Frame) (bool, error) {
			return false, nil
		})
	}()

	f, err := master.readFrame()
	require.NoError(t, err)
	require.Equal(t, iptframe.UnknownCommand, f.Command)

	client.Close()
	<-runErr
}
