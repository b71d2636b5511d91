package monitor

import "html/template"

// indexData fills the index template.
type indexData struct {
	PollMillis int64
	Port       int
}

// JS avoids template literals so html/template never has to reason about
// actions inside them.
var indexTemplate = template.Must(template.New("index").Parse(`
<!DOCTYPE html>
<html>
<head>
    <title>👶 Baby Safety Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px;
               background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); min-height: 100vh; }
        .container { max-width: 900px; margin: 0 auto; background: white; border-radius: 20px;
                     padding: 30px; box-shadow: 0 10px 30px rgba(0,0,0,0.3); }
        h1 { color: #333; text-align: center; margin-bottom: 10px; }
        .subtitle { text-align: center; color: #666; margin-bottom: 30px; }
        .video-container { background: #000; border-radius: 15px; overflow: hidden; margin: 20px 0; }
        img { width: 100%; height: auto; display: block; }
        .alert-banner { background: #ff4444; color: white; padding: 15px; border-radius: 10px;
                        margin: 20px 0; text-align: center; font-weight: bold; display: none; }
        .status-bar { display: flex; justify-content: space-around; background: #f0f0f0;
                      padding: 15px; border-radius: 10px; margin: 20px 0; }
        .status-item { text-align: center; }
        .status-label { font-size: 14px; color: #666; }
        .status-value { font-size: 24px; font-weight: bold; color: #333; }
        .mobile-instructions { background: #e3f2fd; padding: 15px; border-radius: 10px;
                               margin: 20px 0; border-left: 5px solid #2196f3; }
        .alerts-container { background: #fff3cd; padding: 15px; border-radius: 10px;
                            margin: 20px 0; border-left: 5px solid #ffc107; }
        .alert-item { background: white; padding: 10px; margin: 5px 0; border-radius: 5px;
                      border-left: 4px solid #ff4444; }
        .alert-item.PRE-ALERT { border-left-color: #ffd700; }
        .critical-flash { animation: pulse 1s infinite; }
        @keyframes pulse { 0% { opacity: 1; } 50% { opacity: 0.8; } 100% { opacity: 1; } }
        button { background: #4CAF50; color: white; border: none; padding: 12px 24px;
                 border-radius: 8px; font-size: 16px; cursor: pointer; margin: 5px; }
        .button-group { text-align: center; margin-top: 30px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>👶 Baby Safety Monitoring System</h1>
        <p class="subtitle">Real-time hazard proximity alerts</p>

        <div class="alert-banner critical-flash" id="autoAlertBox">
            🚨 <span id="alertMessage">ALERT: Hazard detected!</span>
        </div>

        <div class="status-bar">
            <div class="status-item">
                <div class="status-label">Status</div>
                <div class="status-value" id="statusText">Active ✅</div>
            </div>
            <div class="status-item">
                <div class="status-label">Critical now</div>
                <div class="status-value" id="criticalNow">0</div>
            </div>
            <div class="status-item">
                <div class="status-label">Updates</div>
                <div class="status-value" id="transport">Polling</div>
            </div>
        </div>

        <div class="video-container">
            <img src="/video_feed" id="videoFeed" alt="Live Camera Feed">
        </div>

        <div class="alerts-container">
            <h3>🔴 Live Alerts: <span id="alertCount">0</span></h3>
            <div id="realAlertsList">
                <p style="text-align: center; color: #666;">No alerts detected yet</p>
            </div>
        </div>

        <div class="mobile-instructions">
            <h3>📱 Mobile Access Instructions:</h3>
            <p>1. Make sure your phone is on the same WiFi network</p>
            <p>2. Open browser and go to: <strong id="ipAddress">Loading...</strong></p>
            <p>3. Bookmark this page for easy access</p>
        </div>

        <div class="button-group">
            <button onclick="testAlert()">🚨 Test Alert Sound</button>
            <button id="autoAlertBtn" onclick="toggleAutoAlerts()">✅ Auto-Alerts: ON</button>
        </div>
    </div>

    <script>
        const pollMillis = {{.PollMillis}};
        const defaultPort = {{.Port}};
        let autoAlertsEnabled = true;
        let isPlayingSound = false;
        let alertCheckInterval = null;
        let channelOpen = false;

        document.addEventListener('DOMContentLoaded', function() {
            getLocalIP();
            if ("Notification" in window && Notification.permission === "default") {
                Notification.requestPermission();
            }
            startAutoAlertCheck();
            connectAlertChannel();
        });

        async function getLocalIP() {
            const el = document.getElementById('ipAddress');
            try {
                const response = await fetch('/get_ip');
                const data = await response.json();
                const url = 'http://' + data.ip + ':' + (data.port || defaultPort);
                const link = document.createElement('a');
                link.href = url;
                link.target = '_blank';
                link.textContent = url;
                el.textContent = '';
                el.appendChild(link);
            } catch (error) {
                el.textContent = "Could not get IP. Use your computer's IP address";
            }
        }

        function startAutoAlertCheck() {
            checkForAlerts();
            alertCheckInterval = setInterval(checkForAlerts, pollMillis);
        }

        function stopAutoAlertCheck() {
            if (alertCheckInterval) {
                clearInterval(alertCheckInterval);
                alertCheckInterval = null;
            }
        }

        function toggleAutoAlerts() {
            autoAlertsEnabled = !autoAlertsEnabled;
            const btn = document.getElementById('autoAlertBtn');
            if (autoAlertsEnabled) {
                btn.textContent = '✅ Auto-Alerts: ON';
                btn.style.background = '#4CAF50';
                if (!channelOpen) startAutoAlertCheck();
            } else {
                btn.textContent = '❌ Auto-Alerts: OFF';
                btn.style.background = '#666';
                stopAutoAlertCheck();
            }
        }

        // The alert data channel replaces polling while it is open.
        async function connectAlertChannel() {
            if (!window.RTCPeerConnection) return;
            try {
                const pc = new RTCPeerConnection({iceServers: [{urls: 'stun:stun.l.google.com:19302'}]});
                const channel = pc.createDataChannel('alerts', {negotiated: true, id: 0});
                channel.onopen = function() {
                    channelOpen = true;
                    stopAutoAlertCheck();
                    document.getElementById('transport').textContent = 'WebRTC';
                };
                channel.onclose = function() {
                    channelOpen = false;
                    document.getElementById('transport').textContent = 'Polling';
                    if (autoAlertsEnabled && !alertCheckInterval) startAutoAlertCheck();
                };
                channel.onmessage = function(event) {
                    if (autoAlertsEnabled) handleSummary(JSON.parse(event.data));
                };

                const offer = await pc.createOffer();
                await pc.setLocalDescription(offer);
                await new Promise(function(resolve) {
                    if (pc.iceGatheringState === 'complete') return resolve();
                    pc.onicegatheringstatechange = function() {
                        if (pc.iceGatheringState === 'complete') resolve();
                    };
                });

                const response = await fetch('/api/webrtc/offer', {
                    method: 'POST',
                    headers: {'Content-Type': 'application/json'},
                    body: JSON.stringify(pc.localDescription)
                });
                if (!response.ok) {
                    pc.close();
                    return;
                }
                await pc.setRemoteDescription(await response.json());
            } catch (error) {
                console.log('Alert channel unavailable, polling instead:', error);
            }
        }

        async function checkForAlerts() {
            if (!autoAlertsEnabled) return;
            try {
                const response = await fetch('/get_alerts');
                handleSummary(await response.json());
            } catch (error) {
                console.error('Error checking alerts:', error);
            }
        }

        function handleSummary(data) {
            document.getElementById('alertCount').textContent = data.total;
            document.getElementById('criticalNow').textContent = data.critical_now || 0;
            updateAlertsList(data.alerts);

            if (data.alerts && data.alerts.length > 0) {
                const latestAlert = data.alerts[data.alerts.length - 1];
                if (Date.now() - latestAlert.timestamp * 1000 < 10000) {
                    triggerAutomaticAlert(latestAlert);
                }
            }
        }

        function updateAlertsList(alerts) {
            const alertsList = document.getElementById('realAlertsList');
            if (!alerts || alerts.length === 0) {
                alertsList.innerHTML = '<p style="text-align: center; color: #666;">No alerts detected yet</p>';
                return;
            }

            alertsList.innerHTML = '';
            // Newest first, at most five
            alerts.slice(-5).reverse().forEach(function(alert) {
                const alertDiv = document.createElement('div');
                alertDiv.className = 'alert-item ' + alert.type;
                const time = new Date(alert.timestamp * 1000).toLocaleTimeString();
                const title = document.createElement('strong');
                title.textContent = alert.type;
                const message = document.createElement('div');
                message.textContent = alert.message;
                const distance = document.createElement('small');
                distance.textContent = 'Distance: ' + (alert.distance != null ? alert.distance.toFixed(1) : 'N/A') + 'px';
                alertDiv.appendChild(title);
                alertDiv.appendChild(document.createTextNode(' - ' + time));
                alertDiv.appendChild(message);
                alertDiv.appendChild(distance);
                alertsList.appendChild(alertDiv);
            });
        }

        function triggerAutomaticAlert(alert) {
            const alertBox = document.getElementById('autoAlertBox');
            document.getElementById('alertMessage').textContent = alert.message;
            alertBox.style.display = 'block';

            playAlertSound();
            if (navigator.vibrate) {
                navigator.vibrate([200, 100, 200, 100, 200, 100, 200]);
            }
            if ("Notification" in window && Notification.permission === "granted") {
                new Notification("🚨 Infant Safety Alert!", {
                    body: alert.message,
                    tag: 'safety-alert',
                    requireInteraction: true
                });
            }

            setTimeout(function() { alertBox.style.display = 'none'; }, 10000);
        }

        function playAlertSound() {
            if (isPlayingSound) return;
            isPlayingSound = true;

            const audioContext = new (window.AudioContext || window.webkitAudioContext)();
            const oscillator = audioContext.createOscillator();
            const gainNode = audioContext.createGain();
            oscillator.connect(gainNode);
            gainNode.connect(audioContext.destination);

            oscillator.frequency.setValueAtTime(800, audioContext.currentTime);
            oscillator.frequency.setValueAtTime(600, audioContext.currentTime + 0.1);
            oscillator.frequency.setValueAtTime(800, audioContext.currentTime + 0.2);
            oscillator.frequency.setValueAtTime(600, audioContext.currentTime + 0.3);
            gainNode.gain.setValueAtTime(0.5, audioContext.currentTime);
            gainNode.gain.exponentialRampToValueAtTime(0.01, audioContext.currentTime + 0.5);

            oscillator.start(audioContext.currentTime);
            oscillator.stop(audioContext.currentTime + 0.5);
            setTimeout(function() { isPlayingSound = false; }, 500);
        }

        function testAlert() {
            triggerAutomaticAlert({
                type: 'TEST',
                message: 'Test alert - System is working!',
                timestamp: Date.now() / 1000,
                distance: 50
            });
        }

        // Reconnect the MJPEG stream every 30 seconds
        setInterval(function() {
            document.getElementById('videoFeed').src = '/video_feed?t=' + new Date().getTime();
        }, 30000);
    </script>
</body>
</html>
`))
