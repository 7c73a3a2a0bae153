package service

import (
	"regexp"
	"strings"

	"zoneplane/internal/apperr"
	"zoneplane/internal/models"
)

const (
	defaultPool = "default"

	maxPriority = 1000
	minPort     = 1
	maxPort     = 65535
)

var (
	namePattern  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,62}$`)
	labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
)

var protocols = map[string]bool{"tcp": true, "udp": true, "http": true}

func validateName(kind models.Kind, name string) error {
	if !namePattern.MatchString(name) {
		return apperr.Validation("%s name %q is invalid (1-63 of a-z A-Z 0-9 . _ -, starting alphanumeric)", kind, name)
	}
	return nil
}

func validateID(kind models.Kind, id string) error {
	if id == "" {
		return apperr.Validation("%s id is required", kind)
	}
	return nil
}

// normalizeHostname lowercases host and checks it is a DNS name.
func normalizeHostname(host string) (string, error) {
	h := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if h == "" || len(h) > 253 {
		return "", apperr.Validation("hostname %q is invalid", host)
	}
	for _, label := range strings.Split(h, ".") {
		if !labelPattern.MatchString(label) {
			return "", apperr.Validation("hostname %q has an invalid label %q", host, label)
		}
	}
	return h, nil
}

func validatePort(field string, port int) error {
	if port < minPort || port > maxPort {
		return apperr.Validation("%s %d is out of range %d-%d", field, port, minPort, maxPort)
	}
	return nil
}

// normalizeRoute checks protocol, path and priority together. Path only
// applies to http and defaults to "/".
func normalizeRoute(protocol, path string, priority int) (string, string, error) {
	protocol = strings.ToLower(protocol)
	if !protocols[protocol] {
		return "", "", apperr.Validation("protocol %q is not one of tcp, udp, http", protocol)
	}
	if priority < 0 || priority > maxPriority {
		return "", "", apperr.Validation("priority %d is out of range 0-%d", priority, maxPriority)
	}
	if protocol != "http" {
		if path != "" {
			return "", "", apperr.Validation("path is only valid for http transponders")
		}
		return protocol, "", nil
	}
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") || strings.ContainsAny(path, " \t\n?#") {
		return "", "", apperr.Validation("path %q must be an absolute URL path", path)
	}
	return protocol, path, nil
}

func (in ZoneInput) normalize() (ZoneInput, error) {
	if in.Pool == "" {
		in.Pool = defaultPool
	}
	if err := validateName(models.KindZone, in.Name); err != nil {
		return in, err
	}
	if !namePattern.MatchString(in.Pool) {
		return in, apperr.Validation("pool %q is invalid", in.Pool)
	}
	if in.Size < 0 {
		return in, apperr.Validation("zone size %d is negative", in.Size)
	}
	return in, nil
}

func (in PortalInput) normalize() (PortalInput, error) {
	if err := validateName(models.KindPortal, in.Name); err != nil {
		return in, err
	}
	h, err := normalizeHostname(in.Hostname)
	if err != nil {
		return in, err
	}
	in.Hostname = h
	return in, nil
}

func (in TransponderInput) normalize() (TransponderInput, error) {
	if err := validateID(models.KindPortal, in.PortalID); err != nil {
		return in, err
	}
	if err := validateID(models.KindWorker, in.WorkerID); err != nil {
		return in, err
	}
	if err := validatePort("port", in.Port); err != nil {
		return in, err
	}
	if err := validatePort("target port", in.TargetPort); err != nil {
		return in, err
	}
	protocol, path, err := normalizeRoute(in.Protocol, in.Path, in.Priority)
	if err != nil {
		return in, err
	}
	in.Protocol, in.Path = protocol, path
	return in, nil
}
