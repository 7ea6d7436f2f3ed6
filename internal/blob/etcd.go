package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdTier stores objects as etcd keys under a prefix. The object version is
// the key's ModRevision, so conditional puts are single etcd transactions and
// are safe across server replicas.
type EtcdTier struct {
	client  *clientv3.Client
	prefix  string
	baseURL string
}

// etcdEnvelope is the stored value; etcd keeps bytes only.
type etcdEnvelope struct {
	ContentType string    `json:"contentType"`
	Access      Access    `json:"access"`
	Data        []byte    `json:"data"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewEtcdTier dials the etcd cluster at endpoints. The caller must call Close
// when finished.
func NewEtcdTier(endpoints []string, prefix, baseURL string, dialTimeout time.Duration) (*EtcdTier, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd dial: %w", err)
	}
	return &EtcdTier{client: client, prefix: strings.TrimRight(prefix, "/"), baseURL: baseURL}, nil
}

// Close releases the underlying etcd client connection.
func (t *EtcdTier) Close() error {
	return t.client.Close()
}

func (t *EtcdTier) etcdKey(key string) string {
	return t.prefix + "/" + key
}

// Get returns the object stored at key.
func (t *EtcdTier) Get(ctx context.Context, key string) (Object, error) {
	if err := validateKey(key); err != nil {
		return Object{}, err
	}
	k := t.etcdKey(key)
	resp, err := t.client.Get(ctx, k)
	if err != nil {
		return Object{}, fmt.Errorf("etcd get %q: %w", k, err)
	}
	if len(resp.Kvs) == 0 {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	kv := resp.Kvs[0]
	var env etcdEnvelope
	if err := json.Unmarshal(kv.Value, &env); err != nil {
		return Object{}, fmt.Errorf("unmarshal %q: %w", k, err)
	}
	return Object{
		Key:         key,
		Data:        env.Data,
		ContentType: env.ContentType,
		Version:     strconv.FormatInt(kv.ModRevision, 10),
		UpdatedAt:   env.UpdatedAt,
	}, nil
}

// Put writes the object in one transaction guarded by the put condition.
func (t *EtcdTier) Put(ctx context.Context, key string, data []byte, opts PutOptions) (PutResult, error) {
	if err := validateKey(key); err != nil {
		return PutResult{}, err
	}
	opts, err := normalizeOptions(opts)
	if err != nil {
		return PutResult{}, err
	}

	value, err := json.Marshal(etcdEnvelope{
		ContentType: opts.ContentType,
		Access:      opts.Access,
		Data:        data,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("marshal: %w", err)
	}

	k := t.etcdKey(key)
	var cmps []clientv3.Cmp
	if opts.Condition.IfAbsent {
		cmps = append(cmps, clientv3.Compare(clientv3.Version(k), "=", 0))
	}
	if opts.Condition.IfVersion != "" {
		rev, err := strconv.ParseInt(opts.Condition.IfVersion, 10, 64)
		if err != nil {
			return PutResult{}, fmt.Errorf("%w: malformed version %q", ErrConflict, opts.Condition.IfVersion)
		}
		cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(k), "=", rev))
	}

	resp, err := t.client.Txn(ctx).If(cmps...).Then(clientv3.OpPut(k, string(value))).Commit()
	if err != nil {
		return PutResult{}, fmt.Errorf("etcd txn put %q: %w", k, err)
	}
	if !resp.Succeeded {
		return PutResult{}, fmt.Errorf("%w: %s", ErrConflict, key)
	}

	return PutResult{
		Key:     key,
		URL:     PublicURL(t.baseURL, key),
		Version: strconv.FormatInt(resp.Header.Revision, 10),
	}, nil
}
