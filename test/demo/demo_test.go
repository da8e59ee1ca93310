//go:build integration_test

// Package demo plays a whole game against a running server started with config/config.yaml:
//
//	livequiz serve --config config/config.yaml
package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/realtime"
	"github.com/victornm/livequiz/internal/token"
)

const (
	httpAddr = "localhost:8080"
	grpcAddr = "localhost:8081"
	secret   = "change-me"
	hostRef  = "host-1"
	examID   = 1
)

func TestQuiz(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	hostTok, err := token.NewIssuer(token.Config{Secret: secret}).IssueHost(hostRef)
	require.NoError(t, err)

	var (
		hc    = makeHostClient(t, hostTok)
		wg    = new(sync.WaitGroup)
		users = []string{"u1", "u2", "u3"}
	)

	pin := createSession(t, hostTok)
	t.Logf("Session %s created", pin)

	if addr := os.Getenv("DEMO_REDIS_ADDR"); addr != "" {
		watchRedis(ctx, t, makeRedis(t, addr), wg, "livequiz:live:"+pin+":*")
	}

	players := make([]*websocket.Conn, 0, len(users))
	for _, u := range users {
		players = append(players, joinAndConnect(t, pin, u))
	}

	started := hc.call(ctx, t, "StartGame", map[string]any{"pin": pin})
	total := int(started["question_count"].(float64))

	for i := 0; i < total; i++ {
		var eg errgroup.Group
		for n, ws := range players {
			eg.Go(func() error {
				q, err := readUntil[realtime.QuestionPublished](ws, realtime.TypeQuestionPublished)
				if err != nil {
					return fmt.Errorf("user %q read question: %w", users[n], err)
				}

				// Everyone picks the first shown option.
				frame := fmt.Sprintf(`{"type":"answer","question_id":%d,"option_id":%d,"answer_ms":%d}`,
					q.Question.ID, q.Question.Options[0].ID, 500*(n+1))
				if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return err
				}

				saved, err := readUntil[realtime.AnswerSaved](ws, realtime.TypeAnswerSaved)
				if err != nil {
					return fmt.Errorf("user %q read result: %w", users[n], err)
				}

				t.Logf("User %q answered %d: correct=%v awarded=%d score=%d", users[n], q.Question.ID, saved.IsCorrect, saved.AwardedPoints, saved.Score)
				return nil
			})
		}
		require.NoError(t, eg.Wait())

		hc.call(ctx, t, "Reveal", map[string]any{"pin": pin})

		rv, err := readUntil[realtime.Reveal](players[0], realtime.TypeReveal)
		require.NoError(t, err)
		t.Logf("Leaderboard after question %d:\n%s", rv.QuestionID, formatTop(rv.Top))

		hc.call(ctx, t, "Advance", map[string]any{"pin": pin})
	}

	fin, err := readUntil[realtime.Finished](players[0], realtime.TypeFinished)
	require.NoError(t, err)
	require.Len(t, fin.Top, len(users))
	t.Logf("Final standings:\n%s", formatTop(fin.Top))

	for _, ws := range players {
		_ = ws.Close()
	}

	cancel()
	wg.Wait()
}

type hostClient struct {
	conn *grpc.ClientConn
	tok  string
}

func makeHostClient(t *testing.T, tok string) *hostClient {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &hostClient{conn: conn, tok: tok}
}

func (h *hostClient) call(ctx context.Context, t *testing.T, method string, in map[string]any) map[string]any {
	t.Helper()

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+h.tok)

	req, err := structpb.NewStruct(in)
	require.NoError(t, err)

	out := new(structpb.Struct)
	require.NoError(t, h.conn.Invoke(ctx, "/livequiz.v1.HostControl/"+method, req, out))

	return out.AsMap()
}

func createSession(t *testing.T, hostTok string) string {
	req, err := http.NewRequest(http.MethodPost, "http://"+httpAddr+"/api/live/sessions", strings.NewReader(fmt.Sprintf(`{"exam_id":%d}`, examID)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+hostTok)
	req.Header.Set("Content-Type", "application/json")

	var body struct {
		Pin string `json:"pin"`
	}
	doJSON(t, http.DefaultClient, req, &body)

	return body.Pin
}

// joinAndConnect joins like a browser: the identity cookies of the join go with the socket handshake.
func joinAndConnect(t *testing.T, pin, nickname string) *websocket.Conn {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	req, err := http.NewRequest(http.MethodPost, "http://"+httpAddr+"/api/live/"+pin+"/join", strings.NewReader(fmt.Sprintf(`{"nickname":%q}`, nickname)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	var body struct {
		PlayerID int64 `json:"player_id"`
	}
	doJSON(t, client, req, &body)
	t.Logf("User %q joined as player %d", nickname, body.PlayerID)

	dialer := websocket.Dialer{Jar: jar, HandshakeTimeout: 5 * time.Second}
	ws, _, err := dialer.Dial("ws://"+httpAddr+"/ws/live/"+pin+"/play", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	return ws
}

func doJSON(t *testing.T, c *http.Client, req *http.Request, v any) {
	t.Helper()

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func readUntil[T any](ws *websocket.Conn, typ string) (T, error) {
	var v T
	for {
		if err := ws.SetReadDeadline(time.Now().Add(30 * time.Second)); err != nil {
			return v, err
		}

		_, b, err := ws.ReadMessage()
		if err != nil {
			return v, err
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(b, &head); err != nil {
			return v, err
		}

		if head.Type == typ {
			return v, json.Unmarshal(b, &v)
		}
	}
}

// watchRedis logs what the server publishes for other instances.
func watchRedis(ctx context.Context, t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup, pattern string) {
	sub := rc.PSubscribe(ctx, pattern)
	t.Cleanup(func() { sub.Close() })

	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				return
			}

			t.Logf("redis %s: %s", msg.Channel, msg.Payload)
		}
	}()
}

func makeRedis(t *testing.T, addr string) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func formatTop(top []domain.Standing) string {
	var s string
	for i, e := range top {
		s += fmt.Sprintf("%d. %s: %d\n", i+1, e.Nickname, e.Score)
	}
	return s
}
