package repository

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// respServer - минимальный RESP2 сервер: отвечает по имени команды и запоминает запросы
type respServer struct {
	ln      net.Listener
	replies map[string]string

	mu   sync.Mutex
	seen [][]string
}

func newRESPServer(t *testing.T, replies map[string]string) *respServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	rs := &respServer{ln: ln, replies: replies}
	go rs.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return rs
}

func (rs *respServer) serve() {
	for {
		conn, err := rs.ln.Accept()
		if err != nil {
			return
		}
		go rs.handle(conn)
	}
}

func (rs *respServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		cmd, err := readCommand(r)
		if err != nil {
			return
		}
		rs.mu.Lock()
		rs.seen = append(rs.seen, cmd)
		rs.mu.Unlock()

		reply, ok := rs.replies[strings.ToUpper(cmd[0])]
		if !ok {
			reply = "+OK\r\n"
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func (rs *respServer) commands(name string) [][]string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var out [][]string
	for _, c := range rs.seen {
		if strings.EqualFold(c[0], name) {
			out = append(out, c)
		}
	}
	return out
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected line %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		head, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(head[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func bulkArray(items ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(items))
	for _, it := range items {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(it), it)
	}
	return b.String()
}

func newTestOfferStore(t *testing.T, rs *respServer) *OfferStore {
	client := redis.NewClient(&redis.Options{
		Addr:            rs.ln.Addr().String(),
		Protocol:        2,
		DisableIdentity: true,
		MaxRetries:      -1,
		DialTimeout:     time.Second,
		ReadTimeout:     time.Second,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewOfferStore(client).(*OfferStore)
}

func TestOfferStore_DueDropsMalformedMembers(t *testing.T) {
	// Подготовка
	id := uuid.New()
	rs := newRESPServer(t, map[string]string{
		"HELLO":         "-ERR unknown command 'HELLO'\r\n",
		"ZRANGEBYSCORE": bulkArray("not-a-uuid", id.String()),
		"ZREM":          ":1\r\n",
	})
	store := newTestOfferStore(t, rs)

	// Действие
	ids, err := store.Due(context.Background(), time.Now(), 10)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)
	zrem := rs.commands("ZREM")
	require.Len(t, zrem, 1)
	assert.Equal(t, []string{"zrem", offerDeadlinesKey, "not-a-uuid"}, zrem[0])
}

func TestOfferStore_DueReportsFailedCleanup(t *testing.T) {
	rs := newRESPServer(t, map[string]string{
		"HELLO":         "-ERR unknown command 'HELLO'\r\n",
		"ZRANGEBYSCORE": bulkArray("not-a-uuid", uuid.NewString()),
		"ZREM":          "-ERR write refused\r\n",
	})
	store := newTestOfferStore(t, rs)

	ids, err := store.Due(context.Background(), time.Now(), 10)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-uuid")
	assert.Contains(t, err.Error(), "write refused")
	assert.Nil(t, ids)
}
