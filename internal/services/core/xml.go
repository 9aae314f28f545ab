// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package core

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/localcloud/localcloud/internal/logging"
)

type responseMetadata struct {
	RequestID string `xml:"RequestId"`
}

// WriteResponse renders a query-protocol success envelope:
//
//	<{Action}Response xmlns="...">
//	  <{Action}Result>...</{Action}Result>
//	  <ResponseMetadata><RequestId>...</RequestId></ResponseMetadata>
//	</{Action}Response>
//
// A nil result omits the result element, which is what parameterless
// acknowledgements look like on the wire.
func WriteResponse(w http.ResponseWriter, action, xmlns string, result any) {
	requestID := uuid.NewString()

	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("X-Amzn-Requestid", requestID)

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	envelope := xml.StartElement{
		Name: xml.Name{Local: action + "Response"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: xmlns}},
	}

	err := enc.EncodeToken(envelope)
	if err == nil && result != nil {
		err = enc.EncodeElement(result, xml.StartElement{Name: xml.Name{Local: action + "Result"}})
	}
	if err == nil {
		err = enc.EncodeElement(responseMetadata{RequestID: requestID},
			xml.StartElement{Name: xml.Name{Local: "ResponseMetadata"}})
	}
	if err == nil {
		err = enc.EncodeToken(envelope.End())
	}
	if err == nil {
		err = enc.Flush()
	}
	if err != nil {
		// The status line is already written; all we can do is log.
		logging.HCLogger().Named("core").Error("encoding response", "action", action, "error", err)
	}
}

type errorResponse struct {
	XMLName   xml.Name    `xml:"ErrorResponse"`
	Error     errorDetail `xml:"Error"`
	RequestID string      `xml:"RequestId"`
}

type errorDetail struct {
	Type    string `xml:"Type"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// WriteError renders a query-protocol error envelope. Errors that are
// not APIErrors become 500 InternalFailure; the simulated services
// only ever surface typed errors, so anything else is a bug worth
// seeing in the logs.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		logging.HCLogger().Named("core").Error("internal error", "error", err)
		apiErr = &APIError{
			Code:    "InternalFailure",
			Message: "An internal error occurred.",
			Status:  http.StatusInternalServerError,
		}
	}

	requestID := uuid.NewString()
	errType := "Sender"
	if apiErr.Status >= 500 {
		errType = "Receiver"
	}

	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("X-Amzn-Requestid", requestID)
	w.WriteHeader(apiErr.Status)

	body := errorResponse{
		Error: errorDetail{
			Type:    errType,
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
		RequestID: requestID,
	}

	out, marshalErr := xml.MarshalIndent(body, "", "  ")
	if marshalErr != nil {
		logging.HCLogger().Named("core").Error("encoding error response", "error", marshalErr)
		return
	}
	fmt.Fprintf(w, "%s%s\n", xml.Header, out)
}
