package sandbox

import "strings"

// maxSlugLen keeps container names comfortably under docker's 63-char cap
// after the yokeflow- prefix.
const maxSlugLen = 40

// Slug converts a project name into a container-safe identifier: lowercase,
// runs of non-alphanumerics collapsed to single hyphens, trimmed, capped.
func Slug(name string) string {
	var b strings.Builder
	lastHyphen := true // swallow leading separators
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "project"
	}
	return slug
}

// ContainerName returns the canonical container name for a project.
func ContainerName(projectName string) string {
	return "yokeflow-" + Slug(projectName)
}
