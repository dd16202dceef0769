// Command mockbackend is a stand-in recognition backend for local testing.
// It accepts the service's multipart uploads and returns canned segments and
// speaker spans sized to the submitted audio.
package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

type segment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

type speakerSpan struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// audioSeconds estimates the duration of an uploaded 16 kHz mono WAV.
func audioSeconds(audioData []byte) float64 {
	const wavHeaderSize = 44
	if len(audioData) <= wavHeaderSize {
		return 0
	}
	return float64(len(audioData)-wavHeaderSize) / 2 / 16000
}

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return nil, false
	}

	log.Printf("request_id=%s file=%s bytes=%d sample_rate=%s language=%s",
		r.FormValue("request_id"), header.Filename, len(audioData),
		r.FormValue("sample_rate"), r.FormValue("language"))

	return audioData, true
}

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	audioData, ok := readUpload(w, r)
	if !ok {
		return
	}

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	duration := audioSeconds(audioData)
	response := map[string]interface{}{
		"segments": []segment{
			{
				Start:        0,
				End:          duration,
				Text:         "this is a canned transcription of " + strconv.FormatFloat(duration, 'f', 2, 64) + " seconds of audio",
				Confidence:   0.95,
				NoSpeechProb: 0.05,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func diarizeHandler(w http.ResponseWriter, r *http.Request) {
	audioData, ok := readUpload(w, r)
	if !ok {
		return
	}

	time.Sleep(100 * time.Millisecond)

	duration := audioSeconds(audioData)
	response := map[string]interface{}{
		"spans": []speakerSpan{
			{Start: 0, End: duration, Speaker: "SPEAKER_00"},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func main() {
	http.HandleFunc("/transcribe", transcribeHandler)
	http.HandleFunc("/diarize", diarizeHandler)

	port := ":9000"
	log.Printf("Mock recognition backend starting on %s", port)
	log.Printf("Point the service at: http://localhost%s", port)

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
