package solana

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/types"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/popclaim/internal/domain/mint"
	"github.com/okian/popclaim/internal/domain/model"
)

func TestTreeShapes(t *testing.T) {
	Convey("Given the compression program's tree layout", t, func() {
		Convey("Then account sizes match the concurrent merkle tree layout", func() {
			So(TreeAccountSize(14, 64), ShouldEqual, 31800)
			So(TreeAccountSize(3, 8), ShouldEqual, 1304)
		})

		Convey("Then only listed shapes are supported", func() {
			So(Supported(14, 64), ShouldBeTrue)
			So(Supported(20, 2048), ShouldBeTrue)
			So(Supported(7, 64), ShouldBeFalse)
			So(Supported(14, 63), ShouldBeFalse)
		})
	})
}

func TestInstructions(t *testing.T) {
	Convey("Given bubblegum instructions", t, func() {
		payer := types.NewAccount()
		treeAcc := types.NewAccount()
		owner := types.NewAccount()
		authority, err := treeAuthority(treeAcc.PublicKey)
		So(err, ShouldBeNil)

		Convey("Then anchor discriminators are derived from the method name", func() {
			So(discriminator("mint_v1"), ShouldResemble, []byte{145, 98, 192, 118, 184, 147, 118, 104})
			So(discriminator("create_tree"), ShouldResemble, []byte{165, 83, 136, 142, 89, 202, 47, 220})
		})

		Convey("Then create_tree carries depth, buffer and a private tree flag", func() {
			ix, err := createTreeInstruction(createTreeParam{
				Tree: treeAcc.PublicKey, Authority: authority, Payer: payer.PublicKey, MaxDepth: 14, Buffer: 64,
			})
			So(err, ShouldBeNil)
			So(ix.ProgramID, ShouldEqual, BubblegumProgramID)
			So(ix.Accounts, ShouldHaveLength, 7)
			So(ix.Data, ShouldHaveLength, 8+4+4+2)
			So(binary.LittleEndian.Uint32(ix.Data[8:12]), ShouldEqual, 14)
			So(binary.LittleEndian.Uint32(ix.Data[12:16]), ShouldEqual, 64)
			So(ix.Data[16:], ShouldResemble, []byte{1, 0})
		})

		Convey("Then mint_v1 encodes the token metadata with the payer as creator", func() {
			ix, err := mintInstruction(mintParam{
				Tree: treeAcc.PublicKey, Authority: authority, Payer: payer.PublicKey, Owner: owner.PublicKey,
				Name: "Gopher Meetup", Symbol: "POP", URI: "https://img/1.png",
			})
			So(err, ShouldBeNil)
			So(ix.Accounts, ShouldHaveLength, 9)
			So(ix.Accounts[1].PubKey, ShouldEqual, owner.PublicKey)

			body := ix.Data[8:]
			So(binary.LittleEndian.Uint32(body[:4]), ShouldEqual, len("Gopher Meetup"))
			So(string(body[4:4+len("Gopher Meetup")]), ShouldEqual, "Gopher Meetup")

			tail := body[len(body)-(4+32+1+1):]
			So(binary.LittleEndian.Uint32(tail[:4]), ShouldEqual, 1)
			So(tail[4:36], ShouldResemble, payer.PublicKey.Bytes())
			So(tail[36], ShouldEqual, 1)
			So(tail[37], ShouldEqual, 100)
		})
	})
}

func TestKeypair(t *testing.T) {
	Convey("Given a solana-keygen keypair file", t, func() {
		acc := types.NewAccount()
		ints := make([]int, len(acc.PrivateKey))
		for i, b := range acc.PrivateKey {
			ints[i] = int(b)
		}
		data, err := json.Marshal(ints)
		So(err, ShouldBeNil)
		path := filepath.Join(t.TempDir(), "payer.json")
		So(os.WriteFile(path, data, 0o600), ShouldBeNil)

		Convey("Then it loads the same account", func() {
			got, err := LoadKeypairFile(path)
			So(err, ShouldBeNil)
			So(got.PublicKey.ToBase58(), ShouldEqual, acc.PublicKey.ToBase58())
		})

		Convey("Then malformed keypairs are rejected", func() {
			_, err := decodeKeypair([]byte(`[1,2,3]`))
			So(err, ShouldNotBeNil)
			_, err = decodeKeypair([]byte(`"nope"`))
			So(err, ShouldNotBeNil)
			_, err = LoadKeypairFile(filepath.Join(t.TempDir(), "missing.json"))
			So(err, ShouldNotBeNil)
		})
	})
}

// rpcStub answers JSON-RPC methods with canned results or error objects.
func rpcStub(t *testing.T, handle func(method string) (status int, body string)) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Method string `json:"method"`
		}
		_ = json.Unmarshal(raw, &req)
		status, body := handle(req.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitAndStatus(t *testing.T) {
	Convey("Given a chain over a stub RPC endpoint", t, func() {
		ctx := context.Background()
		tx := mint.Tx{Signature: "sig", Raw: []byte{1, 2, 3}}

		Convey("When the node refuses the transaction", func() {
			srv := rpcStub(t, func(string) (int, string) {
				return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Transaction simulation failed"}}`
			})
			err := New(srv.URL, types.NewAccount()).Submit(ctx, tx)

			Convey("Then the rejection is definitive", func() {
				So(errors.Is(err, mint.ErrRejected), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "simulation failed")
			})
		})

		Convey("When the node reports a fault of its own", func() {
			for _, body := range []string{
				`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"Node is unhealthy"}}`,
				`{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"Internal error"}}`,
			} {
				srv := rpcStub(t, func(string) (int, string) { return http.StatusOK, body })
				err := New(srv.URL, types.NewAccount()).Submit(ctx, tx)
				So(err, ShouldNotBeNil)
				So(errors.Is(err, mint.ErrRejected), ShouldBeFalse)
			}
		})

		Convey("When the signature does not verify", func() {
			srv := rpcStub(t, func(string) (int, string) {
				return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32003,"message":"Transaction signature verification failure"}}`
			})
			err := New(srv.URL, types.NewAccount()).Submit(ctx, tx)
			So(errors.Is(err, mint.ErrRejected), ShouldBeTrue)
		})

		Convey("When the endpoint is unavailable", func() {
			srv := rpcStub(t, func(string) (int, string) { return http.StatusServiceUnavailable, "" })
			err := New(srv.URL, types.NewAccount()).Submit(ctx, tx)

			Convey("Then the outcome is left open", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, mint.ErrRejected), ShouldBeFalse)
			})
		})

		Convey("Then an accepted transaction submits cleanly", func() {
			srv := rpcStub(t, func(string) (int, string) {
				return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"sig"}`
			})
			So(New(srv.URL, types.NewAccount()).Submit(ctx, tx), ShouldBeNil)
		})

		Convey("Then signature statuses map onto ledger states", func() {
			cases := []struct {
				value string
				want  model.TxState
			}{
				{`null`, model.TxUnseen},
				{`{"slot":5,"confirmationStatus":"processed","err":null}`, model.TxProcessing},
				{`{"slot":5,"confirmationStatus":"confirmed","err":null}`, model.TxConfirmed},
				{`{"slot":5,"confirmationStatus":"finalized","err":null}`, model.TxConfirmed},
				{`{"slot":5,"confirmationStatus":"confirmed","err":{"InstructionError":[0,{"Custom":6001}]}}`, model.TxFailed},
			}
			for _, tc := range cases {
				srv := rpcStub(t, func(string) (int, string) {
					return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":6},"value":[` + tc.value + `]}}`
				})
				st, err := New(srv.URL, types.NewAccount()).Status(ctx, "sig")
				So(err, ShouldBeNil)
				So(st.State, ShouldEqual, tc.want)
			}
		})

		Convey("Then finalized commitment does not accept confirmed", func() {
			srv := rpcStub(t, func(string) (int, string) {
				return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"value":[{"slot":5,"confirmationStatus":"confirmed","err":null}]}}`
			})
			st, err := New(srv.URL, types.NewAccount(), WithCommitment("finalized")).Status(ctx, "sig")
			So(err, ShouldBeNil)
			So(st.State, ShouldEqual, model.TxProcessing)
		})

		Convey("When confirmation arrives after a few polls", func() {
			var calls atomic.Int32
			srv := rpcStub(t, func(method string) (int, string) {
				if !strings.EqualFold(method, "getSignatureStatuses") {
					return http.StatusBadRequest, ""
				}
				if calls.Add(1) < 3 {
					return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"value":[null]}}`
				}
				return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"value":[{"slot":9,"confirmationStatus":"confirmed","err":null}]}}`
			})
			c := New(srv.URL, types.NewAccount(), WithPollInterval(time.Millisecond))

			Convey("Then Confirm waits for it", func() {
				st, err := c.Confirm(ctx, "sig")
				So(err, ShouldBeNil)
				So(st.State, ShouldEqual, model.TxConfirmed)
				So(st.Slot, ShouldEqual, 9)
			})

			Convey("Then Confirm gives up with the context", func() {
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				_, err := c.Confirm(cctx, "other")
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}
