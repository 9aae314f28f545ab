// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package ses simulates the Simple Email Service API. Sent messages
// are persisted in the backend so test suites can verify delivery
// through the edge's internal API instead of a real mailbox.
package ses

import (
	"bytes"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localcloud/localcloud/internal/services/core"
)

// RecipientLimit is the most recipients a single send may address.
const RecipientLimit = 50

// Sending quota reported by GetSendQuota; matches the SES sandbox.
const (
	Max24HourSend = 200
	MaxSendRate   = 1
)

// Destinations groups the recipient lists of a send.
type Destinations struct {
	To  []string
	Cc  []string
	Bcc []string
}

func (d Destinations) count() int {
	return len(d.To) + len(d.Cc) + len(d.Bcc)
}

func (d Destinations) all() []string {
	ret := make([]string, 0, d.count())
	ret = append(ret, d.To...)
	ret = append(ret, d.Cc...)
	ret = append(ret, d.Bcc...)
	return ret
}

// Message is a sent email kept for inspection.
type Message struct {
	ID           string
	Source       string
	Subject      string
	Body         string
	Template     string
	Destinations Destinations
	Raw          []byte
}

// BulkDestination is one recipient group of a bulk templated send,
// optionally carrying replacement data merged over the default
// template data.
type BulkDestination struct {
	Destination     Destinations
	ReplacementData map[string]string
}

// BulkResult is the per-destination outcome of a bulk templated send.
type BulkResult struct {
	MessageID string
	Status    string
}

// ReceiptRule is one rule in a receipt rule set.
type ReceiptRule struct {
	Name        string
	Enabled     bool
	ScanEnabled bool
	TLSPolicy   string
	Recipients  []string
}

// Template is a stored email template.
type Template struct {
	Name    string
	Subject string
	Text    string
	HTML    string
	Created time.Time
}

// Quota is the account sending quota.
type Quota struct {
	Max24HourSend   int
	MaxSendRate     float64
	SentLast24Hours int
}

// Statistics summarizes sending activity.
type Statistics struct {
	DeliveryAttempts int
	Rejects          int
	Bounces          int
	Complaints       int
	Timestamp        time.Time
}

// Backend holds all SES state for one account. SES identity state is
// global, so the registry keys every backend with the global region.
type Backend struct {
	mu sync.Mutex

	accountID string

	addresses      []string
	emailAddresses []string
	domains        []string

	sentMessages  []Message
	sentCount     int
	rejectedCount int

	templates          map[string]Template
	configSets         map[string]struct{}
	eventDestinations  map[string]struct{}
	notificationTopics map[string]map[string]string
	ruleSets           map[string][]ReceiptRule
}

// NewBackend returns an empty SES backend for the account.
func NewBackend(accountID, _ string) *Backend {
	return &Backend{
		accountID:          accountID,
		templates:          make(map[string]Template),
		configSets:         make(map[string]struct{}),
		eventDestinations:  make(map[string]struct{}),
		notificationTopics: make(map[string]map[string]string),
		ruleSets:           make(map[string][]ReceiptRule),
	}
}

// VerifyEmailIdentity marks an email address as a verified identity.
// Verifying an already-verified address is a no-op.
func (b *Backend) VerifyEmailIdentity(address string) {
	address = parsedAddress(address)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.addresses {
		if a == address {
			return
		}
	}
	b.addresses = append(b.addresses, address)
}

// VerifyEmailAddress is the legacy variant of VerifyEmailIdentity.
func (b *Backend) VerifyEmailAddress(address string) {
	address = parsedAddress(address)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.emailAddresses = append(b.emailAddresses, address)
}

// VerifyDomainIdentity marks a whole domain as verified.
func (b *Backend) VerifyDomainIdentity(domain string) {
	domain = strings.ToLower(domain)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.domains {
		if d == domain {
			return
		}
	}
	b.domains = append(b.domains, domain)
}

// ListIdentities returns verified identities. identityType filters to
// "EmailAddress" or "Domain"; empty means both.
func (b *Backend) ListIdentities(identityType string) ([]string, error) {
	if identityType != "" && identityType != "EmailAddress" && identityType != "Domain" {
		return nil, core.ValidationError("Value %q at 'identityType' failed to satisfy constraint: Member must satisfy enum value set: [Domain, EmailAddress]", identityType)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var ret []string
	if identityType == "" || identityType == "Domain" {
		ret = append(ret, b.domains...)
	}
	if identityType == "" || identityType == "EmailAddress" {
		ret = append(ret, b.addresses...)
	}
	return ret, nil
}

// ListVerifiedEmailAddresses returns addresses verified through the
// legacy VerifyEmailAddress call.
func (b *Backend) ListVerifiedEmailAddresses() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.emailAddresses...)
}

// DeleteIdentity removes a verified address or domain. Deleting an
// unknown identity is a no-op, like the real API.
func (b *Backend) DeleteIdentity(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if strings.Contains(identity, "@") {
		b.addresses = remove(b.addresses, identity)
	} else {
		b.domains = remove(b.domains, strings.ToLower(identity))
	}
}

func remove(list []string, v string) []string {
	ret := list[:0]
	for _, e := range list {
		if e != v {
			ret = append(ret, e)
		}
	}
	return ret
}

// isVerified reports whether the bare email address, or its domain, is
// verified. Callers hold b.mu.
func (b *Backend) isVerified(source string) bool {
	address := parsedAddress(source)
	for _, a := range b.addresses {
		if a == address {
			return true
		}
	}
	for _, a := range b.emailAddresses {
		if a == address {
			return true
		}
	}
	_, domain, ok := strings.Cut(address, "@")
	if !ok {
		return false
	}
	for _, d := range b.domains {
		if strings.EqualFold(domain, d) {
			return true
		}
	}
	return false
}

// SendEmail validates and records a plain send.
func (b *Backend) SendEmail(source, subject, body string, dest Destinations) (Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dest.count() > RecipientLimit {
		return Message{}, core.NewError("MessageRejected", "Too many recipients.")
	}
	if !b.isVerified(source) {
		b.rejectedCount++
		return Message{}, core.NewError("MessageRejected", "Email address not verified %s", source)
	}
	for _, address := range append([]string{source}, dest.all()...) {
		if err := validateAddress(address); err != nil {
			return Message{}, err
		}
	}

	msg := Message{
		ID:           uuid.NewString(),
		Source:       source,
		Subject:      subject,
		Body:         body,
		Destinations: dest,
	}
	b.sentMessages = append(b.sentMessages, msg)
	b.sentCount += dest.count()
	return msg, nil
}

// SendTemplatedEmail validates and records a templated send. The
// template must exist and the template data must cover every
// placeholder it references.
func (b *Backend) SendTemplatedEmail(source, templateName string, data map[string]string, dest Destinations) (Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dest.count() > RecipientLimit {
		return Message{}, core.NewError("MessageRejected", "Too many recipients.")
	}
	if !b.isVerified(source) {
		b.rejectedCount++
		return Message{}, core.NewError("MessageRejected", "Email address not verified %s", source)
	}
	for _, address := range append([]string{source}, dest.all()...) {
		if err := validateAddress(address); err != nil {
			return Message{}, err
		}
	}

	tmpl, ok := b.templates[templateName]
	if !ok {
		return Message{}, core.NewError("TemplateDoesNotExist", "Template (%s) does not exist", templateName)
	}
	if missing := missingVariable(tmpl, data); missing != "" {
		return Message{}, core.NewError("MissingRenderingAttribute", "Attribute '%s' is not present in the rendering data.", missing)
	}

	msg := Message{
		ID:           uuid.NewString(),
		Source:       source,
		Template:     templateName,
		Destinations: dest,
	}
	b.sentMessages = append(b.sentMessages, msg)
	b.sentCount += dest.count()
	return msg, nil
}

// SendBulkTemplatedEmail validates one templated send fanned out to
// many destinations and records one message per destination. The
// destination count and the total recipient count are both capped at
// RecipientLimit. Each destination's replacement data is merged over
// the default data; a destination whose merged data misses a template
// placeholder gets a Failed status instead of a message.
func (b *Backend) SendBulkTemplatedEmail(source, templateName string, defaultData map[string]string, dests []BulkDestination) ([]BulkResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(dests) > RecipientLimit {
		return nil, core.NewError("MessageRejected", "Too many destinations.")
	}
	total := 0
	for _, d := range dests {
		total += d.Destination.count()
	}
	if total > RecipientLimit {
		return nil, core.NewError("MessageRejected", "Too many destinations.")
	}
	if !b.isVerified(source) {
		b.rejectedCount++
		return nil, core.NewError("MessageRejected", "Email address not verified %s", source)
	}
	tmpl, ok := b.templates[templateName]
	if !ok {
		return nil, core.NewError("TemplateDoesNotExist", "Template (%s) does not exist", templateName)
	}

	results := make([]BulkResult, 0, len(dests))
	for _, d := range dests {
		merged := make(map[string]string, len(defaultData)+len(d.ReplacementData))
		for k, v := range defaultData {
			merged[k] = v
		}
		for k, v := range d.ReplacementData {
			merged[k] = v
		}
		if missingVariable(tmpl, merged) != "" {
			results = append(results, BulkResult{Status: "Failed"})
			continue
		}
		msg := Message{
			ID:           uuid.NewString(),
			Source:       source,
			Template:     templateName,
			Destinations: d.Destination,
		}
		b.sentMessages = append(b.sentMessages, msg)
		b.sentCount += d.Destination.count()
		results = append(results, BulkResult{MessageID: msg.ID, Status: "Success"})
	}
	return results, nil
}

// SendRawEmail validates and records a raw MIME send. The source may
// come from the Source parameter or the From header of the raw data.
func (b *Backend) SendRawEmail(source string, destinations []string, raw []byte) (Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return Message{}, core.NewError("InvalidParameterValue", "Could not parse raw message data.")
	}

	if source == "" {
		from := parsed.Header.Get("From")
		if from == "" {
			return Message{}, core.NewError("MessageRejected", "Source not specified")
		}
		source = from
	}
	if !b.isVerified(source) {
		return Message{}, core.NewError("MessageRejected", "Did not have authority to send from email %s", parsedAddress(source))
	}

	recipientCount := len(destinations)
	for _, header := range []string{"To", "Cc", "Bcc"} {
		for _, addr := range strings.Split(parsed.Header.Get(header), ",") {
			if strings.TrimSpace(addr) != "" {
				recipientCount++
			}
		}
	}
	if recipientCount > RecipientLimit {
		return Message{}, core.NewError("MessageRejected", "Too many recipients.")
	}
	for _, address := range append([]string{source}, destinations...) {
		if err := validateAddress(address); err != nil {
			return Message{}, err
		}
	}

	msg := Message{
		ID:           uuid.NewString(),
		Source:       source,
		Destinations: Destinations{To: destinations},
		Raw:          append([]byte(nil), raw...),
	}
	b.sentMessages = append(b.sentMessages, msg)
	b.sentCount += recipientCount
	return msg, nil
}

// SentMessages returns a copy of every recorded message, oldest first.
func (b *Backend) SentMessages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.sentMessages...)
}

// GetSendQuota returns the account quota.
func (b *Backend) GetSendQuota() Quota {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Quota{
		Max24HourSend:   Max24HourSend,
		MaxSendRate:     MaxSendRate,
		SentLast24Hours: b.sentCount,
	}
}

// GetSendStatistics returns sending statistics. The simulator never
// bounces or receives complaints.
func (b *Backend) GetSendStatistics() Statistics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Statistics{
		DeliveryAttempts: b.sentCount,
		Rejects:          b.rejectedCount,
		Timestamp:        time.Now().UTC(),
	}
}

// CreateTemplate stores a new template.
func (b *Backend) CreateTemplate(tmpl Template) error {
	if tmpl.Name == "" {
		return core.ValidationError("1 validation error detected: Value null at 'template.templateName' failed to satisfy constraint: Member must not be null")
	}
	if tmpl.Subject == "" {
		return core.NewError("InvalidParameterValue", "The subject must be specified.")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.templates[tmpl.Name]; ok {
		return core.NewError("AlreadyExists", "Duplicate Template Name.")
	}
	tmpl.Created = time.Now().UTC()
	b.templates[tmpl.Name] = tmpl
	return nil
}

// UpdateTemplate replaces an existing template.
func (b *Backend) UpdateTemplate(tmpl Template) error {
	if tmpl.Name == "" {
		return core.ValidationError("1 validation error detected: Value null at 'template.templateName' failed to satisfy constraint: Member must not be null")
	}
	if tmpl.Subject == "" {
		return core.NewError("InvalidParameterValue", "The subject must be specified.")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	existing, ok := b.templates[tmpl.Name]
	if !ok {
		return core.NewError("TemplateDoesNotExist", "Invalid Template Name.")
	}
	tmpl.Created = existing.Created
	b.templates[tmpl.Name] = tmpl
	return nil
}

// GetTemplate returns a stored template.
func (b *Backend) GetTemplate(name string) (Template, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tmpl, ok := b.templates[name]
	if !ok {
		return Template{}, core.NewError("TemplateDoesNotExist", "Invalid Template Name.")
	}
	return tmpl, nil
}

// DeleteTemplate removes a stored template; unknown names are a no-op.
func (b *Backend) DeleteTemplate(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.templates, name)
}

// ListTemplates returns every stored template, in creation order.
func (b *Backend) ListTemplates() []Template {
	b.mu.Lock()
	defer b.mu.Unlock()

	ret := make([]Template, 0, len(b.templates))
	for _, tmpl := range b.templates {
		ret = append(ret, tmpl)
	}
	// Map order is random; callers want something stable.
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Created.Equal(ret[j].Created) {
			return ret[i].Name < ret[j].Name
		}
		return ret[i].Created.Before(ret[j].Created)
	})
	return ret
}

// RenderTemplate substitutes the template data into the stored
// template and returns the rendered text part.
func (b *Backend) RenderTemplate(name string, data map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tmpl, ok := b.templates[name]
	if !ok {
		return "", core.NewError("TemplateDoesNotExist", "Invalid Template Name.")
	}
	if missing := missingVariable(tmpl, data); missing != "" {
		return "", core.NewError("MissingRenderingAttribute", "Attribute '%s' is not present in the rendering data.", missing)
	}

	rendered := tmpl.Subject + "\n" + tmpl.Text
	for k, v := range data {
		rendered = strings.ReplaceAll(rendered, "{{"+k+"}}", v)
	}
	return rendered, nil
}

// CreateConfigurationSet stores a new configuration set name.
func (b *Backend) CreateConfigurationSet(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.configSets[name]; ok {
		return core.NewError("ConfigurationSetAlreadyExists", "Configuration set <%s> already exists", name)
	}
	b.configSets[name] = struct{}{}
	return nil
}

// DescribeConfigurationSet fails for unknown names; the simulator
// stores no attributes beyond the name.
func (b *Backend) DescribeConfigurationSet(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.configSets[name]; !ok {
		return core.NewError("ConfigurationSetDoesNotExist", "Configuration set <%s> does not exist", name)
	}
	return nil
}

// CreateConfigurationSetEventDestination attaches an event destination
// name to a configuration set.
func (b *Backend) CreateConfigurationSetEventDestination(configSet, destination string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.configSets[configSet]; !ok {
		return core.NewError("ConfigurationSetDoesNotExist", "Invalid Configuration Set Name.")
	}
	if _, ok := b.eventDestinations[destination]; ok {
		return core.NewError("EventDestinationAlreadyExists", "Duplicate Event destination Name.")
	}
	b.eventDestinations[destination] = struct{}{}
	return nil
}

// SetIdentityNotificationTopic attaches (or with an empty topic,
// detaches) an SNS topic for a notification type on an identity.
func (b *Backend) SetIdentityNotificationTopic(identity, notificationType, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	topics := b.notificationTopics[identity]
	if topics == nil {
		topics = make(map[string]string)
		b.notificationTopics[identity] = topics
	}
	if topic == "" {
		delete(topics, notificationType)
		return
	}
	topics[notificationType] = topic
}

// GetIdentityNotificationAttributes returns the notification topics
// recorded for each requested identity.
func (b *Backend) GetIdentityNotificationAttributes(identities []string) map[string]map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ret := make(map[string]map[string]string, len(identities))
	for _, identity := range identities {
		topics := make(map[string]string, len(b.notificationTopics[identity]))
		for k, v := range b.notificationTopics[identity] {
			topics[k] = v
		}
		ret[identity] = topics
	}
	return ret
}

// CreateReceiptRuleSet stores a new, empty receipt rule set.
func (b *Backend) CreateReceiptRuleSet(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ruleSets[name]; ok {
		return core.NewError("RuleSetNameAlreadyExists", "Duplicate Receipt Rule Set Name.")
	}
	b.ruleSets[name] = []ReceiptRule{}
	return nil
}

// CreateReceiptRule appends a rule to an existing rule set. Rule names
// are unique within a set.
func (b *Backend) CreateReceiptRule(ruleSetName string, rule ReceiptRule) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rules, ok := b.ruleSets[ruleSetName]
	if !ok {
		return core.NewError("RuleSetDoesNotExist", "Invalid Rule Set Name.")
	}
	for _, r := range rules {
		if r.Name == rule.Name {
			return core.NewError("RuleAlreadyExists", "Duplicate Rule Name.")
		}
	}
	b.ruleSets[ruleSetName] = append(rules, rule)
	return nil
}

// DescribeReceiptRuleSet returns the rules of a rule set in the order
// they were created.
func (b *Backend) DescribeReceiptRuleSet(name string) ([]ReceiptRule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rules, ok := b.ruleSets[name]
	if !ok {
		return nil, core.NewError("RuleSetDoesNotExist", "Rule set does not exist: %s", name)
	}
	return append([]ReceiptRule(nil), rules...), nil
}

// DescribeReceiptRule returns one rule of a rule set by name.
func (b *Backend) DescribeReceiptRule(ruleSetName, ruleName string) (ReceiptRule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rules, ok := b.ruleSets[ruleSetName]
	if !ok {
		return ReceiptRule{}, core.NewError("RuleSetDoesNotExist", "Invalid Rule Set Name.")
	}
	for _, r := range rules {
		if r.Name == ruleName {
			return r, nil
		}
	}
	return ReceiptRule{}, core.NewError("RuleDoesNotExist", "Invalid Rule Name.")
}

// UpdateReceiptRule replaces an existing rule in place.
func (b *Backend) UpdateReceiptRule(ruleSetName string, rule ReceiptRule) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rules, ok := b.ruleSets[ruleSetName]
	if !ok {
		return core.NewError("RuleSetDoesNotExist", "Rule set does not exist: %s", ruleSetName)
	}
	for i, r := range rules {
		if r.Name == rule.Name {
			rules[i] = rule
			return nil
		}
	}
	return core.NewError("RuleDoesNotExist", "Rule does not exist: %s", rule.Name)
}

// parsedAddress extracts the bare address from a possibly
// display-named one ("Jane <jane@example.com>" -> "jane@example.com").
func parsedAddress(address string) string {
	if parsed, err := mail.ParseAddress(address); err == nil {
		return parsed.Address
	}
	return address
}

var templateVarPattern = regexp.MustCompile(`{{(.+?)}}`)

// missingVariable returns the first placeholder referenced by the
// template that the data does not provide, or "".
func missingVariable(tmpl Template, data map[string]string) string {
	for _, m := range templateVarPattern.FindAllStringSubmatch(tmpl.Subject+tmpl.Text+tmpl.HTML, -1) {
		if data[m[1]] == "" {
			return m[1]
		}
	}
	return ""
}

func validateAddress(address string) error {
	bare := parsedAddress(address)
	local, domain, ok := strings.Cut(bare, "@")
	if !ok || local == "" {
		return core.NewError("InvalidParameterValue", "Missing domain")
	}
	if domain == "" || !strings.Contains(domain, ".") {
		return core.NewError("InvalidParameterValue", "Invalid domain %s", domain)
	}
	return nil
}
