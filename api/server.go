package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (POST /v1/holds)
	PostV1Holds(w http.ResponseWriter, r *http.Request)
	// (GET /v1/holds/{authorization_id})
	GetV1HoldsAuthorizationId(w http.ResponseWriter, r *http.Request, authorizationId string)
	// (POST /v1/holds/{authorization_id}/confirm)
	PostV1HoldsAuthorizationIdConfirm(w http.ResponseWriter, r *http.Request, authorizationId string)
	// (POST /v1/holds/{authorization_id}/refund)
	PostV1HoldsAuthorizationIdRefund(w http.ResponseWriter, r *http.Request, authorizationId string)
	// (POST /v1/bookings/{booking_id}/resolve)
	PostV1BookingsBookingIdResolve(w http.ResponseWriter, r *http.Request, bookingId string)
	// (POST /v1/bookings/{booking_id}/earning/available)
	PostV1BookingsBookingIdEarningAvailable(w http.ResponseWriter, r *http.Request, bookingId string)
	// (GET /v1/drivers/{driver_id}/earnings)
	GetV1DriversDriverIdEarnings(w http.ResponseWriter, r *http.Request, driverId string)
	// (POST /v1/drivers/{driver_id}/payouts)
	PostV1DriversDriverIdPayouts(w http.ResponseWriter, r *http.Request, driverId string)
	// (POST /v1/payouts/{payout_id}/status)
	PostV1PayoutsPayoutIdStatus(w http.ResponseWriter, r *http.Request, payoutId string)
	// (POST /webhooks/card)
	PostWebhooksCard(w http.ResponseWriter, r *http.Request)
	// (POST /webhooks/wallet)
	PostWebhooksWallet(w http.ResponseWriter, r *http.Request)
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

type MiddlewareFunc func(http.Handler) http.Handler

func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	handler := http.Handler(fn)
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

func (siw *ServerInterfaceWrapper) pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &value, runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return "", false
	}
	return value, true
}

// PostV1Holds operation middleware
func (siw *ServerInterfaceWrapper) PostV1Holds(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.PostV1Holds)
}

// GetV1HoldsAuthorizationId operation middleware
func (siw *ServerInterfaceWrapper) GetV1HoldsAuthorizationId(w http.ResponseWriter, r *http.Request) {
	authorizationId, ok := siw.pathParam(w, r, "authorization_id")
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetV1HoldsAuthorizationId(w, r, authorizationId)
	})
}

// PostV1HoldsAuthorizationIdConfirm operation middleware
func (siw *ServerInterfaceWrapper) PostV1HoldsAuthorizationIdConfirm(w http.ResponseWriter, r *http.Request) {
	authorizationId, ok := siw.pathParam(w, r, "authorization_id")
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.PostV1HoldsAuthorizationIdConfirm(w, r, authorizationId)
	})
}

// PostV1HoldsAuthorizationIdRefund operation middleware
func (siw *ServerInterfaceWrapper) PostV1HoldsAuthorizationIdRefund(w http.ResponseWriter, r *http.Request) {
	authorizationId, ok := siw.pathParam(w, r, "authorization_id")
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.PostV1HoldsAuthorizationIdRefund(w, r, authorizationId)
	})
}

// PostV1BookingsBookingIdResolve operation middleware
func (siw *ServerInterfaceWrapper) PostV1BookingsBookingIdResolve(w http.ResponseWriter, r *http.Request) {
	bookingId, ok := siw.pathParam(w, r, "booking_id")
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.PostV1BookingsBookingIdResolve(w, r, bookingId)
	})
}

// PostV1BookingsBookingIdEarningAvailable operation middleware
func (siw *ServerInterfaceWrapper) PostV1BookingsBookingIdEarningAvailable(w http.ResponseWriter, r *http.Request) {
	bookingId, ok := siw.pathParam(w, r, "booking_id")
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.PostV1BookingsBookingIdEarningAvailable(w, r, bookingId)
	})
}

// GetV1DriversDriverIdEarnings operation middleware
func (siw *ServerInterfaceWrapper) GetV1DriversDriverIdEarnings(w http.ResponseWriter, r *http.Request) {
	driverId, ok := siw.pathParam(w, r, "driver_id")
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetV1DriversDriverIdEarnings(w, r, driverId)
	})
}

// PostV1DriversDriverIdPayouts operation middleware
func (siw *ServerInterfaceWrapper) PostV1DriversDriverIdPayouts(w http.ResponseWriter, r *http.Request) {
	driverId, ok := siw.pathParam(w, r, "driver_id")
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.PostV1DriversDriverIdPayouts(w, r, driverId)
	})
}

// PostV1PayoutsPayoutIdStatus operation middleware
func (siw *ServerInterfaceWrapper) PostV1PayoutsPayoutIdStatus(w http.ResponseWriter, r *http.Request) {
	payoutId, ok := siw.pathParam(w, r, "payout_id")
	if !ok {
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.PostV1PayoutsPayoutIdStatus(w, r, payoutId)
	})
}

// PostWebhooksCard operation middleware
func (siw *ServerInterfaceWrapper) PostWebhooksCard(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.PostWebhooksCard)
}

// PostWebhooksWallet operation middleware
func (siw *ServerInterfaceWrapper) PostWebhooksWallet(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.PostWebhooksWallet)
}

type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// Handler creates http.Handler with routing matching OpenAPI spec.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerFromMux creates http.Handler with routing matching OpenAPI spec based on the provided mux.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{
		BaseRouter: r,
	})
}

// HandlerWithOptions creates http.Handler with additional options
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter

	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/v1/holds", wrapper.PostV1Holds)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/v1/holds/{authorization_id}", wrapper.GetV1HoldsAuthorizationId)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/v1/holds/{authorization_id}/confirm", wrapper.PostV1HoldsAuthorizationIdConfirm)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/v1/holds/{authorization_id}/refund", wrapper.PostV1HoldsAuthorizationIdRefund)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/v1/bookings/{booking_id}/resolve", wrapper.PostV1BookingsBookingIdResolve)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/v1/bookings/{booking_id}/earning/available", wrapper.PostV1BookingsBookingIdEarningAvailable)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/v1/drivers/{driver_id}/earnings", wrapper.GetV1DriversDriverIdEarnings)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/v1/drivers/{driver_id}/payouts", wrapper.PostV1DriversDriverIdPayouts)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/v1/payouts/{payout_id}/status", wrapper.PostV1PayoutsPayoutIdStatus)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/webhooks/card", wrapper.PostWebhooksCard)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/webhooks/wallet", wrapper.PostWebhooksWallet)
	})

	return r
}
