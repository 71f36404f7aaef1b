package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
)

type instrumentResty struct {
	tel       API
	idcounter *uint64
}

// InstrumentResty reports every request made through client: a debug record when it is sent,
// another when the response arrives and a broken report when it fails outright.
func InstrumentResty(client *resty.Client, tel API) {
	var idcounter uint64
	i := instrumentResty{tel: tel, idcounter: &idcounter}

	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

type reqCtxKeyType int

var reqCtxKey reqCtxKeyType

type reqCtx struct {
	id        uint64
	startTime time.Time
}

func (i instrumentResty) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	id := atomic.AddUint64(i.idcounter, 1)
	ctx := context.WithValue(req.Context(), reqCtxKey, reqCtx{
		id:        id,
		startTime: time.Now(),
	})
	i.tel.ReportDebug(report_resty_request, id, req.Method, req.URL)

	req.SetContext(ctx)
	return nil
}

func requestInfo(req *resty.Request) (reqCtx, bool) {
	info, ok := req.Context().Value(reqCtxKey).(reqCtx)
	return info, ok
}

func (i instrumentResty) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	info, ok := requestInfo(res.Request)
	if !ok {
		i.tel.ReportWarning(report_resty_response, "response without request context", res.Request.URL)
		return nil
	}
	i.tel.ReportDebug(
		report_resty_response,
		info.id,
		time.Since(info.startTime).String(),
		res.Status(),
	)
	return nil
}

func (i instrumentResty) onError(req *resty.Request, err error) {
	var duration time.Duration
	if info, ok := requestInfo(req); ok {
		duration = time.Since(info.startTime)
	}
	i.tel.ReportBroken(
		report_resty_response,
		err,
		req.Method,
		req.URL,
		duration,
	)
}
