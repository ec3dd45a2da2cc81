package httpapi

import "net/http"

// iconSVG is the gateway's branding asset served at /icon and /icon.svg
// (§6 "Branding asset").
const iconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 64 64" width="64" height="64">
  <rect width="64" height="64" rx="12" fill="#1d2433"/>
  <circle cx="20" cy="32" r="6" fill="#5ec2ff"/>
  <circle cx="44" cy="18" r="6" fill="#5ec2ff"/>
  <circle cx="44" cy="46" r="6" fill="#5ec2ff"/>
  <path d="M20 32 L44 18 M20 32 L44 46" stroke="#5ec2ff" stroke-width="3" fill="none"/>
</svg>`

// IconHandler serves the branding asset.
func IconHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write([]byte(iconSVG))
}
