// Package templates serves the request bodies the client fills in before
// talking to external services. Templates use positional %s slots.
package templates

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const Passport = "passport"

var ErrTemplateNotFound = errors.New("templates: template not found")

// Provider resolves a template by name.
type Provider interface {
	Get(name string) (string, error)
}

// Set is an immutable name->template table.
type Set struct {
	items map[string]string
}

var _ Provider = (*Set)(nil)

// Builtin returns the templates compiled into the client.
func Builtin() *Set {
	return &Set{items: map[string]string{
		Passport: passportTemplate,
	}}
}

// LoadFile overlays a YAML file of `name: template` entries on base.
func LoadFile(path string, base *Set) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("templates load failed (%s): %w", path, err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("templates parse failed (%s): %w", path, err)
	}
	out := &Set{items: make(map[string]string)}
	if base != nil {
		for name, tpl := range base.items {
			out.items[name] = tpl
		}
	}
	for name, tpl := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out.items[name] = tpl
	}
	return out, nil
}

func (s *Set) Get(name string) (string, error) {
	tpl, ok := s.items[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return tpl, nil
}

// Slots: account, url-escaped password, policy nonce.
const passportTemplate = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<Envelope xmlns="http://schemas.xmlsoap.org/soap/envelope/" ` +
	`xmlns:wsse="http://schemas.xmlsoap.org/ws/2003/06/secext" ` +
	`xmlns:saml="urn:oasis:names:tc:SAML:1.0:assertion" ` +
	`xmlns:wsp="http://schemas.xmlsoap.org/ws/2002/12/policy" ` +
	`xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd" ` +
	`xmlns:wsa="http://schemas.xmlsoap.org/ws/2004/03/addressing" ` +
	`xmlns:wssc="http://schemas.xmlsoap.org/ws/2004/04/sc" ` +
	`xmlns:wst="http://schemas.xmlsoap.org/ws/2004/04/trust">` +
	`<Header><ps:AuthInfo xmlns:ps="http://schemas.microsoft.com/Passport/SoapServices/PPCRL" Id="PPAuthInfo">` +
	`<ps:HostingApp>{7108E71A-9926-4FCB-BCC9-9A9D3F32E423}</ps:HostingApp>` +
	`<ps:BinaryVersion>4</ps:BinaryVersion><ps:UIVersion>1</ps:UIVersion>` +
	`<ps:Cookies></ps:Cookies><ps:RequestParams>AQAAAAIAAABsYwQAAAAzMDg0</ps:RequestParams>` +
	`</ps:AuthInfo><wsse:Security><wsse:UsernameToken Id="user">` +
	`<wsse:Username>%s</wsse:Username><wsse:Password>%s</wsse:Password>` +
	`</wsse:UsernameToken></wsse:Security></Header>` +
	`<Body><ps:RequestMultipleSecurityTokens xmlns:ps="http://schemas.microsoft.com/Passport/SoapServices/PPCRL" Id="RSTS">` +
	`<wst:RequestSecurityToken Id="RST0"><wst:RequestType>http://schemas.xmlsoap.org/ws/2004/04/security/trust/Issue</wst:RequestType>` +
	`<wsp:AppliesTo><wsa:EndpointReference><wsa:Address>http://Passport.NET/tb</wsa:Address></wsa:EndpointReference></wsp:AppliesTo>` +
	`</wst:RequestSecurityToken>` +
	`<wst:RequestSecurityToken Id="RST1"><wst:RequestType>http://schemas.xmlsoap.org/ws/2004/04/security/trust/Issue</wst:RequestType>` +
	`<wsp:AppliesTo><wsa:EndpointReference><wsa:Address>messenger.msn.com</wsa:Address></wsa:EndpointReference></wsp:AppliesTo>` +
	`<wsse:PolicyReference URI="?%s"></wsse:PolicyReference></wst:RequestSecurityToken>` +
	`</ps:RequestMultipleSecurityTokens></Body></Envelope>`
