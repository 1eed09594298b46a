package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/metadata"
)

type forecastArgs struct {
	City string `json:"city"`
	Days int    `json:"days"`
}

func TestCommandChannel(t *testing.T) {
	assert.Equal(t, "contoso-commands", CommandChannel("contoso"))
	assert.Equal(t, "responses", ResponseChannel)
}

func TestNewCommandGeneratesCorrelationID(t *testing.T) {
	a := NewCommand("contoso", "Ping")
	b := NewCommand("contoso", "Ping")

	assert.NotEmpty(t, a.CorrelationID)
	assert.NotEqual(t, a.CorrelationID, b.CorrelationID)
	assert.Equal(t, KindCommand, a.Kind)
	assert.Equal(t, "contoso", a.TenantID)
	assert.False(t, a.SentAt.IsZero())
}

func TestCommandArgumentsRoundTrip(t *testing.T) {
	cmd, err := NewCommand("contoso", "GetWeatherForecast").WithArguments(forecastArgs{City: "Oslo", Days: 3})
	require.NoError(t, err)

	data, err := EncodeCommand(cmd)
	require.NoError(t, err)

	decoded, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, cmd.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, "GetWeatherForecast", decoded.CommandName)

	var args forecastArgs
	require.NoError(t, decoded.DecodeArguments(&args))
	assert.Equal(t, forecastArgs{City: "Oslo", Days: 3}, args)
}

func TestDecodeArgumentsWithoutArguments(t *testing.T) {
	cmd := NewCommand("contoso", "GetCustomers")
	args := forecastArgs{City: "unchanged"}
	require.NoError(t, cmd.DecodeArguments(&args))
	assert.Equal(t, "unchanged", args.City)
}

func TestDecodeArgumentsMalformed(t *testing.T) {
	cmd := &Command{CommandName: "GetWeatherForecast", Arguments: json.RawMessage(`"not an object"`)}
	var args forecastArgs
	assert.ErrorIs(t, cmd.DecodeArguments(&args), errspkg.ErrDecode)
}

func TestEncodeStampsKind(t *testing.T) {
	data, err := EncodeResponse(&Response{CorrelationID: "c1", TenantID: "contoso"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"response"`)

	data, err = EncodeCommand(&Command{CorrelationID: "c1", TenantID: "contoso", CommandName: "Ping", Kind: "bogus"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"command"`)
}

func TestEncodeNil(t *testing.T) {
	_, err := EncodeCommand(nil)
	assert.ErrorIs(t, err, errspkg.ErrCommandRequired)
	_, err = EncodeResponse(nil)
	assert.ErrorIs(t, err, errspkg.ErrResponseRequired)
}

func TestNewResponseCopiesIdentity(t *testing.T) {
	cmd := &Command{CorrelationID: "c1", TenantID: "contoso", CommandName: "Ping"}
	resp, err := NewResponse(cmd, "pong")
	require.NoError(t, err)

	assert.Equal(t, "c1", resp.CorrelationID)
	assert.Equal(t, "contoso", resp.TenantID)
	assert.False(t, resp.HasError)
	assert.JSONEq(t, `"pong"`, string(resp.Payload))

	var payload string
	require.NoError(t, resp.DecodePayload(&payload))
	assert.Equal(t, "pong", payload)

	_, err = NewResponse(nil, "pong")
	assert.ErrorIs(t, err, errspkg.ErrCommandRequired)
}

func TestNewErrorResponse(t *testing.T) {
	cmd := &Command{CorrelationID: "c2", TenantID: "northwind"}
	resp := NewErrorResponse(cmd, errors.New("legacy service unavailable"))

	assert.True(t, resp.HasError)
	assert.Equal(t, "legacy service unavailable", resp.Error)
	assert.Equal(t, "c2", resp.CorrelationID)
	assert.Equal(t, "northwind", resp.TenantID)
	assert.Empty(t, resp.Payload)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{"explicit command", `{"kind":"command"}`, KindCommand, false},
		{"explicit response", `{"kind":"response","commandName":"ignored"}`, KindResponse, false},
		{"inferred command", `{"correlationId":"c1","commandName":"Ping"}`, KindCommand, false},
		{"inferred response", `{"correlationId":"c1","hasError":false}`, KindResponse, false},
		{"unknown kind", `{"kind":"event"}`, "", true},
		{"ambiguous", `{"correlationId":"c1"}`, "", true},
		{"not json", `pong`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KindOf([]byte(tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, errspkg.ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeLegacyPayloads(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"correlationId":"c1","tenantId":"contoso","commandName":"Ping","partitions":["p0"]}`))
	require.NoError(t, err)
	assert.Equal(t, KindCommand, cmd.Kind)
	assert.Equal(t, []string{"p0"}, cmd.ReplyPartitionHints)

	resp, err := DecodeResponse([]byte(`{"correlationId":"c1","tenantId":"contoso","hasError":false,"payload":"pong"}`))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, resp.Kind)
	assert.JSONEq(t, `"pong"`, string(resp.Payload))
}

func TestDecodeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		decode func([]byte) error
		data   string
		also   error
	}{
		{"response as command", decodeCommandErr, `{"kind":"response","correlationId":"c1","tenantId":"t"}`, nil},
		{"command as response", decodeResponseErr, `{"kind":"command","correlationId":"c1","tenantId":"t","commandName":"Ping"}`, nil},
		{"command missing correlation", decodeCommandErr, `{"kind":"command","tenantId":"t","commandName":"Ping"}`, errspkg.ErrCorrelationIDRequired},
		{"command missing tenant", decodeCommandErr, `{"kind":"command","correlationId":"c1","commandName":"Ping"}`, errspkg.ErrTenantRequired},
		{"command missing name", decodeCommandErr, `{"kind":"command","correlationId":"c1","tenantId":"t"}`, errspkg.ErrCommandNameRequired},
		{"response missing tenant", decodeResponseErr, `{"kind":"response","correlationId":"c1"}`, errspkg.ErrTenantRequired},
		{"garbage", decodeResponseErr, `{{`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode([]byte(tt.data))
			assert.ErrorIs(t, err, errspkg.ErrDecode)
			if tt.also != nil {
				assert.ErrorIs(t, err, tt.also)
			}
		})
	}
}

func TestMetadataHeaders(t *testing.T) {
	cmd := &Command{CorrelationID: "c1", TenantID: "contoso", CommandName: "Ping"}
	md := cmd.Metadata()
	assert.Equal(t, "c1", md.CorrelationID())
	assert.Equal(t, "contoso", md.TenantID())
	assert.Equal(t, KindCommand, md[metadata.KeyMessageKind])
	assert.Equal(t, "Ping", md[metadata.KeyCommandName])

	resp := &Response{CorrelationID: "c1", TenantID: "contoso"}
	assert.Equal(t, KindResponse, resp.Metadata()[metadata.KeyMessageKind])
}

func decodeCommandErr(data []byte) error {
	_, err := DecodeCommand(data)
	return err
}

func decodeResponseErr(data []byte) error {
	_, err := DecodeResponse(data)
	return err
}
