package model

// HospitalLink is a doctor's affiliation with one hospital and the OPD charge billed there.
type HospitalLink struct {
	HospitalID   int64  `json:"hospital_id"`
	HospitalName string `json:"hospital_name"`
	OPDCharge    string `json:"opd_charge"`
}

type Doctor struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	Specialty      *string        `json:"specialty"`
	Photo          string         `json:"photo"`
	About          string         `json:"about"`
	Fees           string         `json:"fees"`
	Hospitals      []HospitalLink `json:"hospitals"`
	AvailableDays  []string       `json:"available_days"`
	AvailableTimes []string       `json:"available_times"`
}

// AffiliatedWith reports whether the doctor practises at hospitalID.
func (d Doctor) AffiliatedWith(hospitalID int64) bool {
	for _, h := range d.Hospitals {
		if h.HospitalID == hospitalID {
			return true
		}
	}
	return false
}

type Hospital struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	PhoneNumber string   `json:"phone_number"`
	Email       string   `json:"email"`
	Website     string   `json:"website"`
	Logo        string   `json:"logo"`
	Doctors     []Doctor `json:"doctors"`
}

type Specialty struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

type Day struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type TimeSlot struct {
	ID   int64  `json:"id"`
	Time string `json:"time"` // HH:MM:SS
}

// DoctorFilter narrows a doctor listing. Zero values match everything.
type DoctorFilter struct {
	HospitalID int64
	// NotAtHospitalID excludes doctors already affiliated with that hospital.
	NotAtHospitalID int64
	Specialty       string
}

type SearchResult struct {
	Doctors   []Doctor   `json:"doctors"`
	Hospitals []Hospital `json:"hospitals"`
}

// Suggestion is one doctor/hospital pairing offered for a specialty.
type Suggestion struct {
	ID           int64  `json:"id"`
	DoctorName   string `json:"doctor_name"`
	HospitalName string `json:"hospital_name"`
	Fees         string `json:"fees"`
}

type NewDoctor struct {
	Name         string
	Email        string
	SpecialtyID  int64
	Fees         string
	About        string
	NMCNo        string
	PasswordHash string
	Photo        string
}

// Schedule is a doctor's editable weekly template plus the catalog it is chosen from.
type Schedule struct {
	DoctorName string
	Days       []Day
	Times      []TimeSlot
	DayIDs     []int64
	TimeIDs    []int64
}
