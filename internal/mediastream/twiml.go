package mediastream

import (
	"encoding/xml"
	"maps"
	"net/http"
	"slices"
)

// twimlResponse is the voice webhook answer that connects the call to a
// bidirectional media stream.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL    string       `xml:"url,attr"`
	Params []twimlParam `xml:"Parameter"`
}

type twimlParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// TwiML renders the <Connect><Stream> document for streamURL. params become
// custom parameters of the start event, sorted by name.
func TwiML(streamURL string, params map[string]string) ([]byte, error) {
	doc := twimlResponse{Connect: twimlConnect{Stream: twimlStream{URL: streamURL}}}
	for _, k := range slices.Sorted(maps.Keys(params)) {
		if params[k] == "" {
			continue
		}
		doc.Connect.Stream.Params = append(doc.Connect.Stream.Params, twimlParam{Name: k, Value: params[k]})
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// VoiceWebhook answers the provider's call webhook with a TwiML document that
// opens a media stream to streamURL. The caller and callee numbers from the
// form body are forwarded as the from/to parameters; direction
// "outbound-api" sets the outbound flag.
func VoiceWebhook(streamURL string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form body", http.StatusBadRequest)
			return
		}
		params := map[string]string{
			ParamFrom: r.PostForm.Get("From"),
			ParamTo:   r.PostForm.Get("To"),
		}
		if r.PostForm.Get("Direction") == "outbound-api" {
			params[ParamOutbound] = "true"
		}
		body, err := TwiML(streamURL, params)
		if err != nil {
			http.Error(w, "failed to render response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
}
