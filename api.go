package pagesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// SyncApi is the request layer used for initial fetches, refetch after
// invalidation, and mutations such as persisting a generated ordering key.
type SyncApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewSyncApi(apiUrl string) *SyncApi {
	return NewSyncApiWithContext(context.Background(), apiUrl)
}

func NewSyncApiWithContext(ctx context.Context, apiUrl string) *SyncApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &SyncApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *SyncApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

type AuthLoginCallback = apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	UserAuth string `json:"user_auth"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	ByJwt string                `json:"by_jwt,omitempty"`
	Error *AuthLoginResultError `json:"error,omitempty"`
}

type AuthLoginResultError struct {
	Message string `json:"message"`
}

func (self *SyncApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		callback,
	)
}

func (self *SyncApi) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

type CollectionResult struct {
	Items []*Entity `json:"items"`
	Total int       `json:"total"`
}

func (self *CollectionResult) Collection() *Collection {
	return &Collection{
		Items: self.Items,
		Total: self.Total,
	}
}

type CollectionCallback = apiCallback[*CollectionResult]

func (self *SyncApi) DocumentsInContainer(containerId string, callback CollectionCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/containers/%s/documents", self.apiUrl, url.PathEscape(containerId)),
		self.byJwt,
		&CollectionResult{},
		callback,
	)
}

// containerId may be empty for the workspace-global view
func (self *SyncApi) RecentChanges(containerId string, callback CollectionCallback) {
	recentUrl := fmt.Sprintf("%s/recent", self.apiUrl)
	if containerId != "" {
		recentUrl = fmt.Sprintf("%s/containers/%s/recent", self.apiUrl, url.PathEscape(containerId))
	}
	go get(
		self.ctx,
		recentUrl,
		self.byJwt,
		&CollectionResult{},
		callback,
	)
}

func (self *SyncApi) TasksInProject(projectId string, callback CollectionCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/tasks", self.apiUrl, url.PathEscape(projectId)),
		self.byJwt,
		&CollectionResult{},
		callback,
	)
}

type DocumentResult struct {
	Document *Entity `json:"document"`
}

type DocumentCallback = apiCallback[*DocumentResult]

func (self *SyncApi) GetDocument(documentId string, callback DocumentCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/documents/%s", self.apiUrl, url.PathEscape(documentId)),
		self.byJwt,
		&DocumentResult{},
		callback,
	)
}

type MoveTaskCallback = apiCallback[*MoveTaskResult]

// persists an ordering key generated by KeyBetween. the same key is written
// optimistically into the cache by the caller before this returns.
type MoveTaskArgs struct {
	TaskId    string `json:"task_id"`
	ProjectId string `json:"project_id"`
	OrderKey  string `json:"order_key"`
}

type MoveTaskResult struct {
	Error *MoveTaskResultError `json:"error,omitempty"`
}

type MoveTaskResultError struct {
	Message string `json:"message"`
}

func (self *SyncApi) MoveTask(moveTask *MoveTaskArgs, callback MoveTaskCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/tasks/%s/move", self.apiUrl, url.PathEscape(moveTask.TaskId)),
		moveTask,
		self.byJwt,
		&MoveTaskResult{},
		callback,
	)
}

// Fetch adapts the api to the cache store's refetch hook, mapping a query
// key back to the request that loads it.
func (self *SyncApi) Fetch(ctx context.Context, queryKey QueryKey) (*Entity, *Collection, error) {
	if len(queryKey) == 0 {
		return nil, nil, fmt.Errorf("empty query key")
	}
	switch queryKey[0] {
	case "document":
		if len(queryKey) < 2 {
			return nil, nil, fmt.Errorf("document query key missing id")
		}
		callback, c := NewBlockingApiCallback[*DocumentResult]()
		self.GetDocument(queryKey[1], callback)
		r := <-c
		if r.Error != nil {
			return nil, nil, r.Error
		}
		return r.Result.Document, nil, nil
	case "documents":
		if len(queryKey) < 2 {
			return nil, nil, fmt.Errorf("documents query key missing container")
		}
		callback, c := NewBlockingApiCallback[*CollectionResult]()
		self.DocumentsInContainer(queryKey[1], callback)
		r := <-c
		if r.Error != nil {
			return nil, nil, r.Error
		}
		return nil, r.Result.Collection(), nil
	case "recent":
		containerId := ""
		if 2 <= len(queryKey) {
			containerId = queryKey[1]
		}
		callback, c := NewBlockingApiCallback[*CollectionResult]()
		self.RecentChanges(containerId, callback)
		r := <-c
		if r.Error != nil {
			return nil, nil, r.Error
		}
		return nil, r.Result.Collection(), nil
	case "tasks":
		if len(queryKey) < 2 {
			return nil, nil, fmt.Errorf("tasks query key missing project")
		}
		callback, c := NewBlockingApiCallback[*CollectionResult]()
		self.TasksInProject(queryKey[1], callback)
		r := <-c
		if r.Error != nil {
			return nil, nil, r.Error
		}
		return nil, r.Result.Collection(), nil
	default:
		return nil, nil, fmt.Errorf("no fetch for query key %s", queryKey)
	}
}

func (self *SyncApi) Close() {
	self.cancel()
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	responseBodyBytes, err := io.ReadAll(r.Body)
	r.Body.Close()

	if http.StatusOK != r.StatusCode {
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
