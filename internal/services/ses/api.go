// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package ses

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/localcloud/localcloud/internal/backends"
	"github.com/localcloud/localcloud/internal/services/core"
)

const xmlns = "http://ses.amazonaws.com/doc/2010-12-01/"

// Service exposes the SES backend over the AWS query protocol.
type Service struct {
	registry *backends.Registry[*Backend]
}

// New returns the SES service with empty state.
func New() *Service {
	return &Service{registry: backends.NewRegistry(NewBackend)}
}

// Name returns the service id used in credential scopes.
func (s *Service) Name() string {
	return "ses"
}

// Reset drops all SES state.
func (s *Service) Reset() {
	s.registry.Reset()
}

// Backend returns the account's backend. SES state is global, so the
// region in the request scope is ignored.
func (s *Service) Backend(accountID string) *Backend {
	return s.registry.Get(accountID, backends.GlobalRegion)
}

// Handle serves one query-protocol request.
func (s *Service) Handle(w http.ResponseWriter, req *http.Request, scope core.Scope) {
	params, err := core.ParseRequest(req)
	if err != nil {
		core.WriteError(w, core.ValidationError("%s", err))
		return
	}

	backend := s.Backend(scope.AccountID)
	action := params.Action()

	result, err := s.dispatch(backend, action, params)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	core.WriteResponse(w, action, xmlns, result)
}

func (s *Service) dispatch(backend *Backend, action string, params core.Params) (any, error) {
	switch action {
	case "VerifyEmailIdentity":
		backend.VerifyEmailIdentity(params.Get("EmailAddress"))
		return nil, nil
	case "VerifyEmailAddress":
		backend.VerifyEmailAddress(params.Get("EmailAddress"))
		return nil, nil
	case "VerifyDomainIdentity":
		backend.VerifyDomainIdentity(params.Get("Domain"))
		return verifyDomainIdentityResult{VerificationToken: uuid.NewString()}, nil
	case "VerifyDomainDkim":
		backend.VerifyDomainIdentity(params.Get("Domain"))
		return verifyDomainDkimResult{DkimTokens: []string{uuid.NewString()}}, nil
	case "ListIdentities":
		identities, err := backend.ListIdentities(params.Get("IdentityType"))
		if err != nil {
			return nil, err
		}
		return listIdentitiesResult{Identities: identities}, nil
	case "ListVerifiedEmailAddresses":
		return listVerifiedEmailAddressesResult{VerifiedEmailAddresses: backend.ListVerifiedEmailAddresses()}, nil
	case "DeleteIdentity":
		backend.DeleteIdentity(params.Get("Identity"))
		return nil, nil

	case "SendEmail":
		msg, err := backend.SendEmail(
			params.Get("Source"),
			params.Get("Message.Subject.Data"),
			messageBody(params),
			destinationsFromParams(params, "Destination"),
		)
		if err != nil {
			return nil, err
		}
		return sendResult{MessageID: msg.ID}, nil
	case "SendTemplatedEmail":
		data, err := templateData(params.Get("TemplateData"))
		if err != nil {
			return nil, err
		}
		msg, err := backend.SendTemplatedEmail(
			params.Get("Source"),
			params.Get("Template"),
			data,
			destinationsFromParams(params, "Destination"),
		)
		if err != nil {
			return nil, err
		}
		return sendResult{MessageID: msg.ID}, nil
	case "SendBulkTemplatedEmail":
		var dests []BulkDestination
		for _, elem := range params.IndexedPrefixes("Destinations") {
			data, err := templateData(params.Get(elem + ".ReplacementTemplateData"))
			if err != nil {
				return nil, err
			}
			dests = append(dests, BulkDestination{
				Destination:     destinationsFromParams(params, elem+".Destination"),
				ReplacementData: data,
			})
		}
		defaultData, err := templateData(params.Get("DefaultTemplateData"))
		if err != nil {
			return nil, err
		}
		results, err := backend.SendBulkTemplatedEmail(params.Get("Source"), params.Get("Template"), defaultData, dests)
		if err != nil {
			return nil, err
		}
		return sendBulkTemplatedEmailResult{Status: bulkStatusXML(results)}, nil
	case "SendRawEmail":
		raw, err := base64.StdEncoding.DecodeString(params.Get("RawMessage.Data"))
		if err != nil {
			return nil, core.NewError("InvalidParameterValue", "The raw message data must be base64 encoded.")
		}
		msg, err := backend.SendRawEmail(params.Get("Source"), params.List("Destinations"), raw)
		if err != nil {
			return nil, err
		}
		return sendResult{MessageID: msg.ID}, nil

	case "GetSendQuota":
		quota := backend.GetSendQuota()
		return getSendQuotaResult{
			Max24HourSend:   float64(quota.Max24HourSend),
			MaxSendRate:     quota.MaxSendRate,
			SentLast24Hours: float64(quota.SentLast24Hours),
		}, nil
	case "GetSendStatistics":
		stats := backend.GetSendStatistics()
		return getSendStatisticsResult{
			SendDataPoints: []sendDataPoint{{
				DeliveryAttempts: stats.DeliveryAttempts,
				Rejects:          stats.Rejects,
				Bounces:          stats.Bounces,
				Complaints:       stats.Complaints,
				Timestamp:        stats.Timestamp.Format(time.RFC3339),
			}},
		}, nil

	case "CreateTemplate":
		return nil, backend.CreateTemplate(templateFromParams(params))
	case "UpdateTemplate":
		return nil, backend.UpdateTemplate(templateFromParams(params))
	case "GetTemplate":
		tmpl, err := backend.GetTemplate(params.Get("TemplateName"))
		if err != nil {
			return nil, err
		}
		return getTemplateResult{Template: templateXML(tmpl)}, nil
	case "ListTemplates":
		templates := backend.ListTemplates()
		metadata := make([]templateMetadata, 0, len(templates))
		for _, tmpl := range templates {
			metadata = append(metadata, templateMetadata{
				Name:             tmpl.Name,
				CreatedTimestamp: tmpl.Created.Format(time.RFC3339),
			})
		}
		return listTemplatesResult{TemplatesMetadata: metadata}, nil
	case "DeleteTemplate":
		backend.DeleteTemplate(params.Get("TemplateName"))
		return nil, nil
	case "TestRenderTemplate":
		data, err := templateData(params.Get("TemplateData"))
		if err != nil {
			return nil, err
		}
		rendered, err := backend.RenderTemplate(params.Get("TemplateName"), data)
		if err != nil {
			return nil, err
		}
		return testRenderTemplateResult{RenderedTemplate: rendered}, nil

	case "CreateConfigurationSet":
		return nil, backend.CreateConfigurationSet(params.Get("ConfigurationSet.Name"))
	case "DescribeConfigurationSet":
		return nil, backend.DescribeConfigurationSet(params.Get("ConfigurationSetName"))
	case "CreateConfigurationSetEventDestination":
		return nil, backend.CreateConfigurationSetEventDestination(
			params.Get("ConfigurationSetName"),
			params.Get("EventDestination.Name"),
		)

	case "CreateReceiptRuleSet":
		return nil, backend.CreateReceiptRuleSet(params.Get("RuleSetName"))
	case "CreateReceiptRule":
		return nil, backend.CreateReceiptRule(params.Get("RuleSetName"), receiptRuleFromParams(params))
	case "DescribeReceiptRuleSet":
		rules, err := backend.DescribeReceiptRuleSet(params.Get("RuleSetName"))
		if err != nil {
			return nil, err
		}
		return describeReceiptRuleSetResult{
			Metadata: ruleSetMetadata{Name: params.Get("RuleSetName")},
			Rules:    receiptRulesXML(rules),
		}, nil
	case "DescribeReceiptRule":
		rule, err := backend.DescribeReceiptRule(params.Get("RuleSetName"), params.Get("RuleName"))
		if err != nil {
			return nil, err
		}
		return describeReceiptRuleResult{Rule: receiptRuleXML(rule)}, nil
	case "UpdateReceiptRule":
		return nil, backend.UpdateReceiptRule(params.Get("RuleSetName"), receiptRuleFromParams(params))

	case "SetIdentityNotificationTopic":
		backend.SetIdentityNotificationTopic(
			params.Get("Identity"),
			params.Get("NotificationType"),
			params.Get("SnsTopic"),
		)
		return nil, nil
	case "GetIdentityNotificationAttributes":
		attrs := backend.GetIdentityNotificationAttributes(params.List("Identities"))
		entries := make([]notificationAttributesEntry, 0, len(attrs))
		for _, identity := range params.List("Identities") {
			topics := attrs[identity]
			entries = append(entries, notificationAttributesEntry{
				Key: identity,
				Value: notificationAttributesValue{
					BounceTopic:            topics["Bounce"],
					ComplaintTopic:         topics["Complaint"],
					DeliveryTopic:          topics["Delivery"],
					ForwardingEnabled:      true,
					HeadersInBounceTopic:   false,
					HeadersInDeliveryTopic: false,
				},
			})
		}
		return getIdentityNotificationAttributesResult{NotificationAttributes: entries}, nil

	default:
		return nil, core.NewError("InvalidAction", "The action %s is not valid for this web service.", action)
	}
}

// messageBody prefers the text part, falling back to the HTML part,
// like moto does.
func messageBody(params core.Params) string {
	if body := params.Get("Message.Body.Text.Data"); body != "" {
		return body
	}
	return params.Get("Message.Body.Html.Data")
}

func destinationsFromParams(params core.Params, prefix string) Destinations {
	return Destinations{
		To:  params.List(prefix + ".ToAddresses"),
		Cc:  params.List(prefix + ".CcAddresses"),
		Bcc: params.List(prefix + ".BccAddresses"),
	}
}

func receiptRuleFromParams(params core.Params) ReceiptRule {
	return ReceiptRule{
		Name:        params.Get("Rule.Name"),
		Enabled:     params.Bool("Rule.Enabled", false),
		ScanEnabled: params.Bool("Rule.ScanEnabled", false),
		TLSPolicy:   params.Get("Rule.TlsPolicy"),
		Recipients:  params.List("Rule.Recipients"),
	}
}

func templateFromParams(params core.Params) Template {
	return Template{
		Name:    params.Get("Template.TemplateName"),
		Subject: params.Get("Template.SubjectPart"),
		Text:    params.Get("Template.TextPart"),
		HTML:    params.Get("Template.HtmlPart"),
	}
}

// templateData decodes the JSON object SES carries template variables
// in. Values may be any JSON scalar; they render as their string form.
func templateData(raw string) (map[string]string, error) {
	if raw == "" {
		return map[string]string{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, core.NewError("InvalidRenderingParameter", "Template rendering data is invalid JSON.")
	}
	ret := make(map[string]string, len(decoded))
	for k, v := range decoded {
		if s, ok := v.(string); ok {
			ret[k] = s
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, core.NewError("InvalidRenderingParameter", "Template rendering data is invalid JSON.")
		}
		ret[k] = strings.Trim(string(encoded), `"`)
	}
	return ret, nil
}

type verifyDomainIdentityResult struct {
	VerificationToken string `xml:"VerificationToken"`
}

type verifyDomainDkimResult struct {
	DkimTokens []string `xml:"DkimTokens>member"`
}

type listIdentitiesResult struct {
	Identities []string `xml:"Identities>member"`
}

type listVerifiedEmailAddressesResult struct {
	VerifiedEmailAddresses []string `xml:"VerifiedEmailAddresses>member"`
}

type sendResult struct {
	MessageID string `xml:"MessageId"`
}

type bulkSendStatus struct {
	Status    string `xml:"Status"`
	MessageId string `xml:"MessageId"`
}

func bulkStatusXML(results []BulkResult) []bulkSendStatus {
	ret := make([]bulkSendStatus, 0, len(results))
	for _, r := range results {
		ret = append(ret, bulkSendStatus{Status: r.Status, MessageId: r.MessageID})
	}
	return ret
}

type sendBulkTemplatedEmailResult struct {
	Status []bulkSendStatus `xml:"Status>member"`
}

type receiptRuleXMLBody struct {
	Name        string   `xml:"Name"`
	Enabled     bool     `xml:"Enabled"`
	ScanEnabled bool     `xml:"ScanEnabled"`
	TlsPolicy   string   `xml:"TlsPolicy,omitempty"`
	Recipients  []string `xml:"Recipients>member"`
}

func receiptRuleXML(rule ReceiptRule) receiptRuleXMLBody {
	return receiptRuleXMLBody{
		Name:        rule.Name,
		Enabled:     rule.Enabled,
		ScanEnabled: rule.ScanEnabled,
		TlsPolicy:   rule.TLSPolicy,
		Recipients:  rule.Recipients,
	}
}

func receiptRulesXML(rules []ReceiptRule) []receiptRuleXMLBody {
	ret := make([]receiptRuleXMLBody, 0, len(rules))
	for _, rule := range rules {
		ret = append(ret, receiptRuleXML(rule))
	}
	return ret
}

type ruleSetMetadata struct {
	Name string `xml:"Name"`
}

type describeReceiptRuleSetResult struct {
	Metadata ruleSetMetadata      `xml:"Metadata"`
	Rules    []receiptRuleXMLBody `xml:"Rules>member"`
}

type describeReceiptRuleResult struct {
	Rule receiptRuleXMLBody `xml:"Rule"`
}

type getSendQuotaResult struct {
	Max24HourSend   float64 `xml:"Max24HourSend"`
	MaxSendRate     float64 `xml:"MaxSendRate"`
	SentLast24Hours float64 `xml:"SentLast24Hours"`
}

type sendDataPoint struct {
	DeliveryAttempts int    `xml:"DeliveryAttempts"`
	Rejects          int    `xml:"Rejects"`
	Bounces          int    `xml:"Bounces"`
	Complaints       int    `xml:"Complaints"`
	Timestamp        string `xml:"Timestamp"`
}

type getSendStatisticsResult struct {
	SendDataPoints []sendDataPoint `xml:"SendDataPoints>member"`
}

type templateXMLBody struct {
	TemplateName string `xml:"TemplateName"`
	SubjectPart  string `xml:"SubjectPart"`
	TextPart     string `xml:"TextPart"`
	HTMLPart     string `xml:"HtmlPart"`
}

func templateXML(tmpl Template) templateXMLBody {
	return templateXMLBody{
		TemplateName: tmpl.Name,
		SubjectPart:  tmpl.Subject,
		TextPart:     tmpl.Text,
		HTMLPart:     tmpl.HTML,
	}
}

type getTemplateResult struct {
	Template templateXMLBody `xml:"Template"`
}

type templateMetadata struct {
	Name             string `xml:"Name"`
	CreatedTimestamp string `xml:"CreatedTimestamp"`
}

type listTemplatesResult struct {
	TemplatesMetadata []templateMetadata `xml:"TemplatesMetadata>member"`
}

type testRenderTemplateResult struct {
	RenderedTemplate string `xml:"RenderedTemplate"`
}

type notificationAttributesValue struct {
	BounceTopic            string `xml:"BounceTopic,omitempty"`
	ComplaintTopic         string `xml:"ComplaintTopic,omitempty"`
	DeliveryTopic          string `xml:"DeliveryTopic,omitempty"`
	ForwardingEnabled      bool   `xml:"ForwardingEnabled"`
	HeadersInBounceTopic   bool   `xml:"HeadersInBounceTopic"`
	HeadersInDeliveryTopic bool   `xml:"HeadersInDeliveryTopic"`
}

type notificationAttributesEntry struct {
	Key   string                      `xml:"key"`
	Value notificationAttributesValue `xml:"value"`
}

type getIdentityNotificationAttributesResult struct {
	NotificationAttributes []notificationAttributesEntry `xml:"NotificationAttributes>entry"`
}
