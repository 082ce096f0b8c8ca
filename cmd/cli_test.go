package cmd

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/ttlbridge/internal/command"
	"firestige.xyz/ttlbridge/internal/osc"
)

// MockClient 实现 ControlClient
type MockClient struct {
	mock.Mock
}

func (m *MockClient) response(args mock.Arguments) (*command.Response, error) {
	resp, _ := args.Get(0).(*command.Response)
	return resp, args.Error(1)
}

func (m *MockClient) Status(ctx context.Context) (*command.Response, error) {
	return m.response(m.Called(ctx))
}

func (m *MockClient) Shutdown(ctx context.Context) (*command.Response, error) {
	return m.response(m.Called(ctx))
}

func (m *MockClient) ConfigReload(ctx context.Context) (*command.Response, error) {
	return m.response(m.Called(ctx))
}

func (m *MockClient) StimSet(ctx context.Context, enabled bool) (*command.Response, error) {
	return m.response(m.Called(ctx, enabled))
}

func (m *MockClient) OSCSet(ctx context.Context, params command.OSCSetParams) (*command.Response, error) {
	return m.response(m.Called(ctx, params))
}

func (m *MockClient) PulseSet(ctx context.Context, durationMs int) (*command.Response, error) {
	return m.response(m.Called(ctx, durationMs))
}

func (m *MockClient) AcquisitionStart(ctx context.Context) (*command.Response, error) {
	return m.response(m.Called(ctx))
}

func (m *MockClient) AcquisitionStop(ctx context.Context) (*command.Response, error) {
	return m.response(m.Called(ctx))
}

func (m *MockClient) TriggerInject(ctx context.Context, line int, state bool) (*command.Response, error) {
	return m.response(m.Called(ctx, line, state))
}

func ok(result any) *command.Response {
	return &command.Response{ID: "1", Result: result}
}

func failed(code int, msg string) *command.Response {
	return &command.Response{ID: "1", Error: &command.ErrorInfo{Code: code, Message: msg}}
}

func TestRunReload(t *testing.T) {
	tests := []struct {
		name           string
		resp           *command.Response
		callErr        error
		expectedError  string
		expectedOutput string
	}{
		{
			name:           "reloaded",
			resp:           ok(map[string]any{"status": "reloaded"}),
			expectedOutput: "✓ Configuration reloaded successfully",
		},
		{
			name:          "daemon not running",
			callErr:       errors.New("connection refused"),
			expectedError: "connection refused",
		},
		{
			name:          "reload rejected",
			resp:          failed(command.ErrCodeInternalError, "reload config failed: bad port"),
			expectedError: "bad port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(MockClient)
			mockClient.On("ConfigReload", mock.Anything).Return(tt.resp, tt.callErr)

			var buf bytes.Buffer
			err := runReload(context.Background(), mockClient, &buf)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to reload")
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Empty(t, buf.String())
			} else {
				require.NoError(t, err)
				assert.Contains(t, buf.String(), tt.expectedOutput)
			}
			mockClient.AssertExpectations(t)
		})
	}
}

func TestReloadCmd_Execute(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("ConfigReload", mock.Anything).Return(ok(nil), nil)

	original := newClient
	newClient = func() ControlClient { return mockClient }
	defer func() { newClient = original }()

	root := &cobra.Command{Use: "ttlbridge"}
	root.AddCommand(reloadCmd)

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"reload"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "✓ Configuration reloaded successfully")
	mockClient.AssertExpectations(t)
}

func TestRunStatus(t *testing.T) {
	status := map[string]any{"version": "0.1.0", "uptime_sec": 12}

	t.Run("json", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("Status", mock.Anything).Return(ok(status), nil)

		var buf bytes.Buffer
		require.NoError(t, runStatus(context.Background(), mockClient, &buf, "json"))
		assert.JSONEq(t, `{"version":"0.1.0","uptime_sec":12}`, buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("Status", mock.Anything).Return(ok(status), nil)

		var buf bytes.Buffer
		require.NoError(t, runStatus(context.Background(), mockClient, &buf, "yaml"))
		var got map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "0.1.0", got["version"])
	})

	t.Run("unknown format", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("Status", mock.Anything).Return(ok(status), nil)
		assert.Error(t, runStatus(context.Background(), mockClient, &bytes.Buffer{}, "xml"))
	})

	t.Run("daemon down", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("Status", mock.Anything).Return(nil, errors.New("dial unix: no such file"))
		assert.Error(t, runStatus(context.Background(), mockClient, &bytes.Buffer{}, "json"))
	})
}

func TestRunStop(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Shutdown", mock.Anything).Return(ok(map[string]any{"status": "shutting_down"}), nil)

	var buf bytes.Buffer
	require.NoError(t, runStop(context.Background(), mockClient, &buf))
	assert.Contains(t, buf.String(), "Shutdown requested")
	mockClient.AssertExpectations(t)
}

func TestRunSet(t *testing.T) {
	port := 27021
	address := "127.0.0.1"
	pattern := "/stim"

	tests := []struct {
		name  string
		key   string
		value string
		setup func(m *MockClient)
	}{
		{"port", "port", "27021", func(m *MockClient) {
			m.On("OSCSet", mock.Anything, command.OSCSetParams{Port: &port}).Return(ok(nil), nil)
		}},
		{"address", "address", address, func(m *MockClient) {
			m.On("OSCSet", mock.Anything, command.OSCSetParams{Address: &address}).Return(ok(nil), nil)
		}},
		{"pattern", "pattern", pattern, func(m *MockClient) {
			m.On("OSCSet", mock.Anything, command.OSCSetParams{Pattern: &pattern}).Return(ok(nil), nil)
		}},
		{"duration", "duration", "20", func(m *MockClient) {
			m.On("PulseSet", mock.Anything, 20).Return(ok(nil), nil)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(MockClient)
			tt.setup(mockClient)

			var buf bytes.Buffer
			require.NoError(t, runSet(context.Background(), mockClient, &buf, tt.key, tt.value))
			assert.Contains(t, buf.String(), tt.key+" set to "+tt.value)
			mockClient.AssertExpectations(t)
		})
	}
}

func TestRunSetErrors(t *testing.T) {
	mockClient := new(MockClient)
	ctx := context.Background()

	assert.Error(t, runSet(ctx, mockClient, &bytes.Buffer{}, "port", "abc"))
	assert.Error(t, runSet(ctx, mockClient, &bytes.Buffer{}, "duration", "1.5"))
	assert.Error(t, runSet(ctx, mockClient, &bytes.Buffer{}, "colour", "red"))
	mockClient.AssertNotCalled(t, "OSCSet", mock.Anything, mock.Anything)

	mockClient.On("PulseSet", mock.Anything, 9000).
		Return(failed(command.ErrCodeInvalidParams, "pulse duration 9000ms outside [0, 5000]"), nil)
	err := runSet(ctx, mockClient, &bytes.Buffer{}, "duration", "9000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside [0, 5000]")
}

func TestRunStim(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("StimSet", mock.Anything, false).Return(ok(nil), nil)

	var buf bytes.Buffer
	require.NoError(t, runStim(context.Background(), mockClient, &buf, false))
	assert.Contains(t, buf.String(), "disabled")

	on, err := parseOnOff("on")
	require.NoError(t, err)
	assert.True(t, on)
	_, err = parseOnOff("maybe")
	assert.Error(t, err)
}

func TestRunAcquisition(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("AcquisitionStart", mock.Anything).Return(ok(nil), nil)
	mockClient.On("AcquisitionStop", mock.Anything).Return(ok(nil), nil)

	var buf bytes.Buffer
	require.NoError(t, runAcquisition(context.Background(), mockClient, &buf, "start"))
	require.NoError(t, runAcquisition(context.Background(), mockClient, &buf, "stop"))
	assert.Contains(t, buf.String(), "Acquisition started")
	assert.Contains(t, buf.String(), "Acquisition stopped")
	assert.Error(t, runAcquisition(context.Background(), mockClient, &buf, "pause"))
	mockClient.AssertExpectations(t)
}

func TestRunInject(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("TriggerInject", mock.Anything, 3, true).Return(ok(nil), nil)
	mockClient.On("TriggerInject", mock.Anything, 4, true).
		Return(failed(command.ErrCodeInternalError, "acquisition is not running"), nil)

	var buf bytes.Buffer
	require.NoError(t, runInject(context.Background(), mockClient, &buf, 3, true))
	assert.Contains(t, buf.String(), "line 3")

	err := runInject(context.Background(), mockClient, &buf, 4, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

type recordingSender struct {
	packets []goosc.Packet
	err     error
}

func (s *recordingSender) Send(p goosc.Packet) error {
	if s.err != nil {
		return s.err
	}
	s.packets = append(s.packets, p)
	return nil
}

func TestRunSend(t *testing.T) {
	sender := &recordingSender{}
	opts := sendOptions{To: "127.0.0.1:27020", Address: "/ttl", Line: 2, State: true, Count: 3}

	var buf bytes.Buffer
	require.NoError(t, runSend(context.Background(), sender, &buf, opts))
	require.Len(t, sender.packets, 3)

	msg, isMsg := sender.packets[0].(*goosc.Message)
	require.True(t, isMsg)
	trig, err := osc.Extract(msg, "/ttl")
	require.NoError(t, err)
	assert.Equal(t, 2, trig.Line())
	assert.True(t, trig.State())
	assert.Contains(t, buf.String(), "Sent 3 trigger(s)")
}

func TestRunSendErrors(t *testing.T) {
	opts := sendOptions{Address: "/ttl", Count: 0}
	assert.Error(t, runSend(context.Background(), &recordingSender{}, &bytes.Buffer{}, opts))

	opts.Count = 1
	err := runSend(context.Background(), &recordingSender{err: errors.New("network down")}, &bytes.Buffer{}, opts)
	assert.ErrorContains(t, err, "network down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts.Count, opts.Interval = 2, time.Hour
	assert.ErrorIs(t, runSend(ctx, &recordingSender{}, &bytes.Buffer{}, opts), context.Canceled)

	_, err = newOSCClient("localhost")
	assert.Error(t, err)
	_, err = newOSCClient("localhost:0")
	assert.Error(t, err)
}

func capture(t *testing.T, payloads ...[]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for i, p := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
			SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2),
		}
		udp := &layers.UDP{SrcPort: 50000, DstPort: 27020}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		sb := gopacket.NewSerializeBuffer()
		require.NoError(t, gopacket.SerializeLayers(sb,
			gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
			eth, ip, udp, gopacket.Payload(p)))
		frame := sb.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)*int64(time.Millisecond)),
			CaptureLength: len(frame),
			Length:        len(frame),
		}, frame))
	}
	return &buf
}

func TestRunReplay(t *testing.T) {
	on, err := osc.NewTriggerMessage("/ttl", 5, true).MarshalBinary()
	require.NoError(t, err)
	off, err := osc.NewTriggerMessage("/ttl", 5, false).MarshalBinary()
	require.NoError(t, err)

	sender := &recordingSender{}
	var buf bytes.Buffer
	opts := replayOptions{Port: 27020, Output: "text"}
	require.NoError(t, runReplay(context.Background(), capture(t, on, []byte("junk"), off), sender, &buf, opts))

	out := buf.String()
	assert.Contains(t, out, "line=5 state=true")
	assert.Contains(t, out, "line=5 state=false")
	assert.Contains(t, out, "invalid:")
	assert.Contains(t, out, "3 packet(s), 3 datagram(s), 2 trigger(s), 1 invalid")
	assert.Len(t, sender.packets, 2)
}

func TestRunReplayJSON(t *testing.T) {
	on, err := osc.NewTriggerMessage("/ttl", 1, true).MarshalBinary()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runReplay(context.Background(), capture(t, on), nil, &buf, replayOptions{Output: "json"}))
	assert.Contains(t, buf.String(), `"line":1`)
	assert.Contains(t, buf.String(), `"src":"10.0.0.1:50000"`)

	assert.Error(t, runReplay(context.Background(), capture(t, on), nil, &buf, replayOptions{Output: "csv"}))
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yml")
	require.NoError(t, os.WriteFile(good, []byte("ttlbridge:\n  osc:\n    port: 27030\n  pulse:\n    duration_ms: 20\n"), 0o644))
	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("ttlbridge:\n  osc:\n    port: 80\n"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, runValidate(&buf, good, false))
	assert.Contains(t, buf.String(), "VALID: osc 0.0.0.0:27030 /ttl, pulse 20ms, 1 stream(s), 0 sink(s)")

	buf.Reset()
	require.NoError(t, runValidate(&buf, good, true))
	assert.Contains(t, buf.String(), "port: 27030")

	err := runValidate(&bytes.Buffer{}, bad, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID")
}
